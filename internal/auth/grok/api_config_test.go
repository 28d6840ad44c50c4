package grok

import (
	"testing"

	"github.com/router-for-me/grok2api/internal/config"
)

func TestBuildHeaders_CookieAndStatsig(t *testing.T) {
	cfg := config.Default()
	cfg.Grok.CFClearance = "cf_clearance=abc"
	dynamic := false
	cfg.Grok.DynamicStatsig = &dynamic
	cfg.Grok.FixedStatsigID = "fixed-id"

	h := BuildHeaders(cfg, "sso-rw=x;sso=jwt-value", "")
	if got := h["Cookie"]; got != "sso-rw=jwt-value;sso=jwt-value;cf_clearance=abc" {
		t.Fatalf("cookie = %q", got)
	}
	if h["x-statsig-id"] != "fixed-id" {
		t.Fatalf("statsig = %q", h["x-statsig-id"])
	}
	if h["Content-Type"] != "application/json" || h["Origin"] != "https://grok.com" {
		t.Fatalf("headers = %v", h)
	}
}

func TestBuildHeaders_UploadAndReferer(t *testing.T) {
	h := BuildHeaders(nil, "jwt", "raw-cf", HeaderOptions{Path: UploadPath, Referer: "https://grok.com/imagine"})
	if h["Content-Type"] != "text/plain;charset=UTF-8" {
		t.Fatalf("content type = %q", h["Content-Type"])
	}
	if h["Referer"] != "https://grok.com/imagine" {
		t.Fatalf("referer = %q", h["Referer"])
	}
	if h["Cookie"] != "sso-rw=jwt;sso=jwt;cf_clearance=raw-cf" {
		t.Fatalf("cookie = %q", h["Cookie"])
	}
	if h["x-statsig-id"] == "" || h["x-xai-request-id"] == "" {
		t.Fatal("dynamic ids missing")
	}
}

func TestEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Grok.BaseURL = "https://mirror.example/"
	if got := Endpoint(cfg, ChatPath); got != "https://mirror.example/rest/app-chat/conversations/new" {
		t.Fatalf("Endpoint = %q", got)
	}
	if got := Endpoint(nil, UploadPath); got != "https://grok.com/rest/app-chat/upload-file" {
		t.Fatalf("Endpoint(nil) = %q", got)
	}
}

func TestModels(t *testing.T) {
	if !IsVideoModel("grok-imagine-0.9") || IsVideoModel("grok-4-fast") {
		t.Fatal("video model detection broken")
	}
	cfg, ok := GetGrokModelConfig("grok-4-expert")
	if !ok || cfg.RateLimitModel != "grok-4" {
		t.Fatalf("config = %+v", cfg)
	}
	models := GetGrokModels()
	if len(models) != len(GrokModels) || models[0].ID > models[1].ID {
		t.Fatalf("models = %+v", models)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abcdefghijkl"); got != "abcd****ijkl" {
		t.Fatalf("MaskToken = %q", got)
	}
	if got := MaskToken("short"); got != "short" {
		t.Fatalf("MaskToken(short) = %q", got)
	}
}
