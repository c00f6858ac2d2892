package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature checks the X-Twilio-Signature header against the
// HMAC-SHA1 of the webhook URL plus the sorted form parameters.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	expected := computeSignature(buildSignaturePayload(webhookURL, r.PostForm), authToken)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func buildSignaturePayload(webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// inboundMessage is the parsed form of one Twilio WhatsApp webhook.
type inboundMessage struct {
	MessageSid string
	From       string
	Body       string
	MediaURL   string
}

func parseInbound(r *http.Request) (inboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return inboundMessage{}, fmt.Errorf("handlers: parse webhook form: %w", err)
	}
	msg := inboundMessage{
		MessageSid: r.FormValue("MessageSid"),
		From:       strings.TrimSpace(r.FormValue("From")),
		Body:       r.FormValue("Body"),
	}
	if n := r.FormValue("NumMedia"); n != "" && n != "0" {
		msg.MediaURL = r.FormValue("MediaUrl0")
	}
	return msg, nil
}

// identityFor strips the transport prefix ("whatsapp:+549...") so the session
// key is the bare phone number.
func identityFor(from string) string {
	return strings.TrimPrefix(from, "whatsapp:")
}

func buildAbsoluteURL(r *http.Request, publicBase string) string {
	if r.URL == nil {
		return ""
	}
	if publicBase != "" {
		return strings.TrimRight(publicBase, "/") + r.URL.RequestURI()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
