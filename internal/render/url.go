package render

import (
	"fmt"
	"net/url"
)

// AddPartnerAndLocale appends partner_id and locale query parameters when they are set.
func AddPartnerAndLocale(rawURL, partnerID, locale string) (string, error) {
	if partnerID == "" && locale == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	if partnerID != "" {
		q.Set("partner_id", partnerID)
	}
	if locale != "" {
		q.Set("locale", locale)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
