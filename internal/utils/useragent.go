package utils

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

// DeviceInfo is what the session registry keeps about a client.
type DeviceInfo struct {
	Browser    string
	OS         string
	DeviceType string
}

// ParseUserAgent classifies a User-Agent header.
func ParseUserAgent(raw string) DeviceInfo {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DeviceInfo{Browser: "Unknown", OS: "Unknown", DeviceType: model.DeviceUnknown}
	}
	ua := useragent.New(raw)
	name, _ := ua.Browser()
	info := DeviceInfo{Browser: name, OS: ua.OS(), DeviceType: model.DeviceDesktop}
	if info.Browser == "" {
		info.Browser = "Unknown"
	}
	if info.OS == "" {
		info.OS = "Unknown"
	}

	lower := strings.ToLower(raw)
	switch {
	case ua.Bot():
		info.DeviceType = model.DeviceBot
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		info.DeviceType = model.DeviceTablet
	case ua.Mobile():
		info.DeviceType = model.DeviceMobile
	case ua.Platform() == "" && ua.OS() == "":
		info.DeviceType = model.DeviceUnknown
	}
	return info
}
