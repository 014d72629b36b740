package httpapi

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrDataURL renders the onboarding link for a user key as a base64 PNG data
// URL. The frontend scans it at /init to store the credential.
func qrDataURL(frontendURL, userKey string) (string, error) {
	link := fmt.Sprintf("%s/init?user_key=%s", frontendURL, userKey)
	png, err := qrcode.Encode(link, qrcode.Low, 256)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
