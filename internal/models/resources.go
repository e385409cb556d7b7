package models

import (
	"errors"
	"time"
)

// Device is a device as listed by the cloud.
type Device struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Online        bool       `json:"online" yaml:"online"`
	Connected     bool       `json:"connected" yaml:"connected"`
	PlatformID    int        `json:"platform_id" yaml:"platform_id"`
	ProductID     int        `json:"product_id,omitempty" yaml:"product_id,omitempty"`
	SerialNumber  string     `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	SystemVersion string     `json:"system_firmware_version,omitempty" yaml:"system_firmware_version,omitempty"`
	Notes         string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	LastHeard     *time.Time `json:"last_heard,omitempty" yaml:"last_heard,omitempty"`
	LastIPAddress string     `json:"last_ip_address,omitempty" yaml:"last_ip_address,omitempty"`

	// Functions and Variables are only present on single-device lookups.
	Functions []string          `json:"functions,omitempty" yaml:"functions,omitempty"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Validate rejects a device without an ID.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("missing device id")
	}

	return nil
}

// FunctionResult is the response to a device function call.
type FunctionResult struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Connected   bool   `json:"connected" yaml:"connected"`
	ReturnValue int    `json:"return_value" yaml:"return_value"`
}

// Validate rejects a function result that does not name a device.
func (r FunctionResult) Validate() error {
	if r.ID == "" {
		return errors.New("missing device id")
	}

	return nil
}

// VariableResult is the response to a device variable read. Result holds
// the raw JSON value: number, string, or bool depending on the variable.
type VariableResult struct {
	Name   string `json:"name" yaml:"name"`
	Result any    `json:"result" yaml:"result"`
}

// Validate rejects a variable result without a name.
func (r VariableResult) Validate() error {
	if r.Name == "" {
		return errors.New("missing variable name")
	}

	return nil
}

// Product is a product the user belongs to.
type Product struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug,omitempty" yaml:"slug,omitempty"`
	PlatformID  int    `json:"platform_id" yaml:"platform_id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Org         string `json:"org,omitempty" yaml:"org,omitempty"`
}

// ProductList is the product listing envelope.
type ProductList struct {
	Products []Product `json:"products" yaml:"products"`
}

// SIMCard is a cellular SIM owned by the user.
type SIMCard struct {
	ICCID      string `json:"_id" yaml:"iccid"`
	Status     string `json:"status" yaml:"status"`
	DeviceID   string `json:"last_device_id,omitempty" yaml:"device_id,omitempty"`
	DeviceName string `json:"last_device_name,omitempty" yaml:"device_name,omitempty"`
	Carrier    string `json:"carrier,omitempty" yaml:"carrier,omitempty"`
}

// SIMCardList is the SIM listing envelope.
type SIMCardList struct {
	SIMs []SIMCard `json:"sims" yaml:"sims"`
}

// Webhook is an integration that forwards events to an HTTP endpoint.
type Webhook struct {
	ID            string            `json:"id" yaml:"id"`
	Event         string            `json:"event" yaml:"event"`
	URL           string            `json:"url" yaml:"url"`
	RequestType   string            `json:"requestType,omitempty" yaml:"request_type,omitempty"`
	DeviceID      string            `json:"deviceID,omitempty" yaml:"device_id,omitempty"`
	NoDefaults    bool              `json:"noDefaults,omitempty" yaml:"no_defaults,omitempty"`
	RejectUnauth  bool              `json:"rejectUnauthorized,omitempty" yaml:"reject_unauthorized,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	CreatedAt     *time.Time        `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	ErrorsCounter int               `json:"errors_count,omitempty" yaml:"errors_count,omitempty"`
}

// WebhookRequest creates a webhook.
type WebhookRequest struct {
	Event       string            `json:"event"`
	URL         string            `json:"url"`
	RequestType string            `json:"requestType,omitempty"`
	DeviceID    string            `json:"deviceID,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	NoDefaults  bool              `json:"noDefaults,omitempty"`
}

// WebhookCreated is the response to a webhook creation.
type WebhookCreated struct {
	OK  bool   `json:"ok" yaml:"ok"`
	ID  string `json:"id" yaml:"id"`
	URL string `json:"url" yaml:"url"`
}

// Validate accepts only a successful creation.
func (w WebhookCreated) Validate() error {
	if !w.OK || w.ID == "" {
		return errors.New("webhook not created")
	}

	return nil
}

// User is the authenticated account.
type User struct {
	Username string `json:"username" yaml:"username"`
	Verified bool   `json:"verified" yaml:"verified"`
	MFA      struct {
		Enabled bool `json:"enabled" yaml:"enabled"`
	} `json:"mfa" yaml:"mfa"`
}

// Validate rejects a user payload without a username.
func (u User) Validate() error {
	if u.Username == "" {
		return errors.New("missing username")
	}

	return nil
}

// Event is one server-sent event.
type Event struct {
	Name        string    `json:"name" yaml:"name"`
	Data        string    `json:"data" yaml:"data"`
	TTL         int       `json:"ttl" yaml:"ttl"`
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`
	CoreID      string    `json:"coreid" yaml:"coreid"`
}

// PublishRequest publishes an event to the user's event stream.
type PublishRequest struct {
	Name    string
	Data    string
	Private bool
	TTL     int
}

// PublishResponse is the response to an event publish.
type PublishResponse struct {
	OK bool `json:"ok" yaml:"ok"`
}

// Validate accepts only a successful publish.
func (p PublishResponse) Validate() error {
	if !p.OK {
		return errors.New("ok is false")
	}

	return nil
}
