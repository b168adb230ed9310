package models

// Principal is the authenticated caller. It is always passed explicitly.
type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
