// Package facebook handles Lead Ads webhook deliveries and Graph API lead lookups.
package facebook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/davidmoltin/leadflow/internal/models"
)

// SignatureHeader carries the HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Hub-Signature-256"

// LeadgenField is the change field of Lead Ads deliveries
const LeadgenField = "leadgen"

// ID accepts Graph ids encoded either as JSON strings or numbers
type ID string

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// WebhookPayload is the body of a page webhook delivery
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes of one page
type Entry struct {
	ID      ID       `json:"id"`
	Time    int64    `json:"time"`
	Changes []Change `json:"changes"`
}

// Change is one field change notification
type Change struct {
	Field string       `json:"field"`
	Value LeadgenValue `json:"value"`
}

// LeadgenValue identifies a newly submitted lead
type LeadgenValue struct {
	LeadgenID   ID    `json:"leadgen_id"`
	PageID      ID    `json:"page_id"`
	FormID      ID    `json:"form_id"`
	AdID        ID    `json:"ad_id,omitempty"`
	CreatedTime int64 `json:"created_time"`
}

// ParseWebhook decodes a webhook body
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &payload, nil
}

// Leadgens returns the lead notifications of the delivery. Changes of other
// fields, or without a leadgen id, are skipped. A missing page id falls back
// to the entry id.
func (p *WebhookPayload) Leadgens() []LeadgenValue {
	var out []LeadgenValue
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != LeadgenField || change.Value.LeadgenID == "" {
				continue
			}
			v := change.Value
			if v.PageID == "" {
				v.PageID = entry.ID
			}
			out = append(out, v)
		}
	}
	return out
}

// VerifySubscription checks a GET verification request and returns the
// challenge to echo.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, bool) {
	if mode != "subscribe" || expectedToken == "" {
		return "", false
	}
	if !hmac.Equal([]byte(token), []byte(expectedToken)) {
		return "", false
	}
	return challenge, true
}

// VerifySignature checks header ("sha256=<hex>") against the HMAC of body.
func VerifySignature(body []byte, header, appSecret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for body
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// DedupKey is the event dedup key of a lead notification
func (v LeadgenValue) DedupKey() string {
	return "fb:" + string(v.LeadgenID)
}

// Payload converts the notification into event payload fields
func (v LeadgenValue) Payload() map[string]interface{} {
	out := map[string]interface{}{
		models.PayloadLeadgenID: string(v.LeadgenID),
		models.PayloadPageID:    string(v.PageID),
		models.PayloadFormID:    string(v.FormID),
	}
	if v.AdID != "" {
		out["ad_id"] = string(v.AdID)
	}
	if v.CreatedTime > 0 {
		out["created_time"] = strconv.FormatInt(v.CreatedTime, 10)
	}
	return out
}
