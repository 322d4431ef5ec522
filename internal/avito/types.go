package avito

// AccountInfo is GET /core/v1/accounts/self.
type AccountInfo struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Phones     []string `json:"phones"`
	ProfileURL string   `json:"profile_url"`
}

// Balance is GET /core/v1/accounts/balance.
type Balance struct {
	Real  float64 `json:"real"`
	Bonus float64 `json:"bonus"`
}

// ItemsStats is GET /core/v1/accounts/{userId}/items/stats.
type ItemsStats struct {
	Count         int `json:"count"`
	ActiveCount   int `json:"active_count"`
	InactiveCount int `json:"inactive_count"`
}

// ItemStats is one ad's counters.
type ItemStats struct {
	ItemID    int64 `json:"item_id"`
	Views     int   `json:"views"`
	Contacts  int   `json:"contacts"`
	Favorites int   `json:"favorites"`
}

// CPABalance is POST /cpa/v3/balanceInfo. Balance is in kopecks.
type CPABalance struct {
	Balance int64 `json:"balance"`
}

// AggregatedStats sums uniqViews/uniqContacts over the account's ads.
type AggregatedStats struct {
	TotalViews    int `json:"totalViews"`
	TotalContacts int `json:"totalContacts"`
	AdsCount      int `json:"adsCount"`
}

// Chat is a messenger conversation, trimmed to the fields the
// back-office consumes.
type Chat struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Context struct {
		Type  string `json:"type"`
		Value struct {
			ID          int64  `json:"id"`
			Title       string `json:"title"`
			PriceString string `json:"price_string,omitempty"`
			URL         string `json:"url"`
		} `json:"value"`
	} `json:"context"`
	Users []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"users"`
	LastMessage *struct {
		ID        string         `json:"id"`
		AuthorID  int64          `json:"author_id"`
		Content   MessageContent `json:"content"`
		Created   int64          `json:"created"`
		Direction string         `json:"direction"`
		Type      string         `json:"type"`
	} `json:"last_message,omitempty"`
}

// MessageContent keeps text plus whatever else the marketplace sends.
type MessageContent struct {
	Text string `json:"text,omitempty"`
}

// Message is one messenger message.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Direction string         `json:"direction"`
	Content   MessageContent `json:"content"`
	AuthorID  int64          `json:"author_id"`
	Created   int64          `json:"created"`
	IsRead    bool           `json:"is_read"`
}
