package gateway

// clientFrame is the shape every inbound client frame is decoded into
// before dispatch on its action. Unused fields for a given action are
// simply left zero.
type clientFrame struct {
	Action  string   `json:"action"`
	Token   string   `json:"token,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// Server -> client frame types, one struct per shape in the wire
// protocol. Every frame carries its own "type" discriminator.

type welcomeFrame struct {
	Type        string `json:"type"`
	ClientID    string `json:"client_id"`
	ServerTime  int64  `json:"server_time"`
	RequireAuth bool   `json:"require_auth"`
}

type authResponseFrame struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	UserLogin int64  `json:"user_login,omitempty"`
	Message   string `json:"message,omitempty"`
}

type subscriptionUpdateFrame struct {
	Type             string   `json:"type"`
	Action           string   `json:"action"` // subscribed | unsubscribed
	Symbols          []string `json:"symbols"`
	AllSubscriptions []string `json:"all_subscriptions"`
}

type quoteFrame struct {
	Type       string `json:"type"`
	Symbol     string `json:"symbol"`
	Bid        string `json:"bid"`
	Ask        string `json:"ask"`
	Spread     string `json:"spread"`
	Time       int64  `json:"time"`
	ServerTime int64  `json:"server_time"`
}

type tradeFrame struct {
	Type       string `json:"type"`
	Order      int64  `json:"order"`
	Login      int64  `json:"login"`
	Symbol     string `json:"symbol"`
	Cmd        string `json:"cmd"`
	Volume     string `json:"volume"`
	OpenPrice  string `json:"open_price"`
	ClosePrice string `json:"close_price"`
	SL         string `json:"sl"`
	TP         string `json:"tp"`
	Profit     string `json:"profit"`
	State      string `json:"state"`
}

type notificationFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Login   int64  `json:"login,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongFrame struct {
	Type string `json:"type"`
}
