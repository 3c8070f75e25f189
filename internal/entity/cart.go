package entity

type ItemSource string

const (
	SourceCart   ItemSource = "cart"
	SourceDirect ItemSource = "direct"
)

type Cart struct {
	UserID string      `json:"userId"`
	Items  []OrderItem `json:"items"`
}
