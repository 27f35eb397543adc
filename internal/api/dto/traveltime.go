package dto

type RebuildRequest struct {
	Profile  string `json:"profile,omitempty"`
	DepartAt *int64 `json:"depart_at,omitempty"`
}

type RebuildResponse struct {
	Pairs  int   `json:"pairs"`
	Bucket int64 `json:"bucket"`
}
