// Package accounts owns the tenant account records and the lifecycle
// coordination around them: encrypt-on-write, cache invalidation on
// every mutation, connectivity probes and stat syncs.
package accounts

import (
	"time"

	"avitolink/internal/avito"
)

// Account is one integrated marketplace account. ClientSecret and
// ProxyPassword are ciphertext at rest; they are only decrypted inside
// a client build.
type Account struct {
	ID             int64                `json:"id"`
	Name           string               `json:"name"`
	ClientID       string               `json:"clientId"`
	ClientSecret   string               `json:"-"`
	CredentialKind avito.CredentialKind `json:"credentialKind"`
	UserID         int64                `json:"userId,omitempty"`

	ProxyScheme   string `json:"proxyScheme,omitempty"`
	ProxyHost     string `json:"proxyHost,omitempty"`
	ProxyPort     int    `json:"proxyPort,omitempty"`
	ProxyLogin    string `json:"proxyLogin,omitempty"`
	ProxyPassword string `json:"-"`

	EternalOnlineEnabled bool       `json:"eternalOnlineEnabled"`
	KeepAliveSec         int        `json:"onlineKeepAliveInterval"`
	IsOnline             bool       `json:"isOnline"`
	LastOnlineCheck      *time.Time `json:"lastOnlineCheck,omitempty"`

	ConnectionStatus string     `json:"connectionStatus,omitempty"`
	ProxyStatus      string     `json:"proxyStatus,omitempty"`
	AccountBalance   float64    `json:"accountBalance"`
	AdsCount         int        `json:"adsCount"`
	LastSyncAt       *time.Time `json:"lastSyncAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateInput is the onboarding payload. ClientSecret and
// ProxyPassword arrive as plaintext and are encrypted before persist.
type CreateInput struct {
	Name                 string `json:"name"`
	ClientID             string `json:"clientId"`
	ClientSecret         string `json:"clientSecret"`
	UserID               int64  `json:"userId"`
	ProxyScheme          string `json:"proxyScheme"`
	ProxyHost            string `json:"proxyHost"`
	ProxyPort            int    `json:"proxyPort"`
	ProxyLogin           string `json:"proxyLogin"`
	ProxyPassword        string `json:"proxyPassword"`
	EternalOnlineEnabled bool   `json:"eternalOnlineEnabled"`
	KeepAliveSec         int    `json:"onlineKeepAliveInterval"`
}

// UpdateInput carries only the fields to change; nil means keep.
type UpdateInput struct {
	Name                 *string `json:"name"`
	ClientID             *string `json:"clientId"`
	ClientSecret         *string `json:"clientSecret"`
	UserID               *int64  `json:"userId"`
	ProxyScheme          *string `json:"proxyScheme"`
	ProxyHost            *string `json:"proxyHost"`
	ProxyPort            *int    `json:"proxyPort"`
	ProxyLogin           *string `json:"proxyLogin"`
	ProxyPassword        *string `json:"proxyPassword"`
	EternalOnlineEnabled *bool   `json:"eternalOnlineEnabled"`
	KeepAliveSec         *int    `json:"onlineKeepAliveInterval"`
}

// ConnectionResult is what a connectivity probe reports and persists.
type ConnectionResult struct {
	ConnectionStatus string `json:"connectionStatus"`
	ProxyStatus      string `json:"proxyStatus"`
}

// Probe status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
	StatusNotChecked   = "not_checked"
)
