package models

// PaymentAttributes is the closed schema static rules are evaluated against.
// The expr tags are the names rule expressions use.
type PaymentAttributes struct {
	Currency           string            `json:"currency,omitempty" expr:"currency"`
	Amount             int64             `json:"amount,omitempty" expr:"amount"`
	CardNetwork        string            `json:"card_network,omitempty" expr:"card_network"`
	CardType           string            `json:"card_type,omitempty" expr:"card_type"`
	CardBIN            string            `json:"card_bin,omitempty" expr:"card_bin"`
	Country            string            `json:"country,omitempty" expr:"country"`
	BillingCountry     string            `json:"billing_country,omitempty" expr:"billing_country"`
	PaymentMethod      string            `json:"payment_method,omitempty" expr:"payment_method"`
	PaymentMethodType  string            `json:"payment_method_type,omitempty" expr:"payment_method_type"`
	AuthenticationType string            `json:"authentication_type,omitempty" expr:"authentication_type"`
	CaptureMethod      string            `json:"capture_method,omitempty" expr:"capture_method"`
	Recurring          bool              `json:"recurring,omitempty" expr:"recurring"`
	Metadata           map[string]string `json:"metadata,omitempty" expr:"metadata"`
}

// AttributeKind is the value type of a schema attribute
type AttributeKind string

const (
	AttributeString AttributeKind = "string"
	AttributeNumber AttributeKind = "number"
	AttributeBool   AttributeKind = "bool"
	AttributeMap    AttributeKind = "map"
)

// AttributeSchema lists every attribute a rule may reference with its kind
var AttributeSchema = map[string]AttributeKind{
	"currency":            AttributeString,
	"amount":              AttributeNumber,
	"card_network":        AttributeString,
	"card_type":           AttributeString,
	"card_bin":            AttributeString,
	"country":             AttributeString,
	"billing_country":     AttributeString,
	"payment_method":      AttributeString,
	"payment_method_type": AttributeString,
	"authentication_type": AttributeString,
	"capture_method":      AttributeString,
	"recurring":           AttributeBool,
	"metadata":            AttributeMap,
}
