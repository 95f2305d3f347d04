package domain

import (
	"net/mail"
	"strings"
)

// SenderAddress extracts the bare address from a sender field.
// "Billing <billing@paypa1.com>" produces "billing@paypa1.com".
// Values that do not parse as an address are returned trimmed.
func SenderAddress(sender string) string {
	sender = strings.TrimSpace(sender)
	if addr, err := mail.ParseAddress(sender); err == nil {
		return strings.ToLower(addr.Address)
	}
	return sender
}

// SenderDomain returns the lowercased domain part of the sender address,
// or "" when the sender carries no domain.
func SenderDomain(sender string) string {
	addr := SenderAddress(sender)
	at := strings.LastIndex(addr, "@")
	if at == -1 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(addr[at+1:], "."))
}
