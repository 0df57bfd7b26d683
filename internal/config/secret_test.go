package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestSecretString_Redacts(t *testing.T) {
	s := SecretString("sk_live_abc123")

	for name, got := range map[string]string{
		"String":  s.String(),
		"Sprintf": fmt.Sprintf("%s", s),
		"SprintV": fmt.Sprintf("%v", s),
		"GoSyntx": fmt.Sprintf("%#v", s),
	} {
		if strings.Contains(got, "sk_live") {
			t.Errorf("%s leaked the secret: %q", name, got)
		}
	}
}

func TestSecretString_MarshalJSON_InConfig(t *testing.T) {
	cfg := BillingConfig{
		StripeSecretKey:     "sk_live_abc123",
		StripeWebhookSecret: "whsec_xyz",
		StripeAPIBase:       "https://api.stripe.com",
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "sk_live") || strings.Contains(out, "whsec_") {
		t.Errorf("secret leaked into JSON: %s", out)
	}
	if !strings.Contains(out, "https://api.stripe.com") {
		t.Errorf("non-secret field missing: %s", out)
	}
}

func TestSecretString_UnmaskAndIsSet(t *testing.T) {
	s := SecretString("postgres://u:p@localhost/db")
	if s.Unmask() != "postgres://u:p@localhost/db" {
		t.Errorf("Unmask() = %q", s.Unmask())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for a configured value")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for an empty value")
	}
}
