package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/quantale/polyarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets; it maps onto a condition
// group with one condition per member market.
type APIEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	Active      flexBool    `json:"active"`
	Closed      bool        `json:"closed"`
	Markets     []APIMarket `json:"markets"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API,
// trimmed to the fields group discovery needs.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"condition_id"`
	QuestionID    string   `json:"question_id"`
	Slug          string   `json:"slug"`
	ActiveFromAPI flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Tokens        []Token  `json:"tokens"`
	ClobTokenIDs  string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// YesTokenID returns the CLOB token ID of the market's Yes outcome, falling
// back to the first entry of clob_token_ids when the tokens array is absent.
func (m *APIMarket) YesTokenID() string {
	for _, t := range m.Tokens {
		if strings.EqualFold(t.Outcome, "Yes") {
			return t.TokenID
		}
	}
	if m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil && len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}

// ToConditionGroup converts an APIEvent into a domain.ConditionGroup with one
// condition per member market, indexed in API order. Each condition's token
// is the market's Yes token.
func (e *APIEvent) ToConditionGroup() domain.ConditionGroup {
	g := domain.ConditionGroup{
		ID:    e.ID,
		Title: e.Title,
	}
	switch {
	case e.Closed:
		g.Status = "closed"
	case bool(e.Active):
		g.Status = "active"
	default:
		g.Status = "settled"
	}
	if t, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
		g.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, e.UpdatedAt); err == nil {
		g.UpdatedAt = t
	}
	for i := range e.Markets {
		m := &e.Markets[i]
		label := m.Question
		if label == "" {
			label = m.Slug
		}
		g.Conditions = append(g.Conditions, domain.Condition{
			Index:   i,
			Label:   label,
			TokenID: m.YesTokenID(),
		})
	}
	return g
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// PriceChangeMessage represents an incremental orderbook price-level update.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// PriceMessage represents the most recent trade price for an asset.
type PriceMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
	Markets []string `json:"markets,omitempty"`
}

// PriceUpdate is the normalized form of a price-bearing WebSocket message
// consumed by the price feed.
type PriceUpdate struct {
	TokenID   string
	Price     float64
	Size      float64
	Timestamp time.Time
}
