package interceptor

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

type Class string

const (
	ClassPassthrough Class = "passthrough"
	ClassAPI         Class = "api"
	ClassNavigation  Class = "navigation"
	ClassStatic      Class = "static"
)

var imageExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".webp": true, ".ico": true, ".avif": true,
}

// Classify picks the strategy for req relative to the app origin.
func Classify(origin *url.URL, req *http.Request) Class {
	if !sameOrigin(origin, req.URL) {
		return ClassPassthrough
	}
	if strings.HasPrefix(req.URL.Path, "/api/") {
		return ClassAPI
	}
	if isNavigation(req) {
		return ClassNavigation
	}
	return ClassStatic
}

func sameOrigin(origin, u *url.URL) bool {
	// относительный URL считается своим
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(origin.Scheme, u.Scheme) && strings.EqualFold(origin.Host, u.Host)
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}

func isImage(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Dest") == "image" {
		return true
	}
	return imageExt[strings.ToLower(path.Ext(req.URL.Path))]
}
