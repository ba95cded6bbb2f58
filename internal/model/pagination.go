package model

// RegistrationPage is the paginated payload returned by the admin listing.
type RegistrationPage struct {
	Data     []*RegistrationView `json:"data"`
	Total    int                 `json:"total"`
	Pages    int                 `json:"pages"`
	PageNum  int                 `json:"pageNum"`
	PageSize int                 `json:"pageSize"`
}
