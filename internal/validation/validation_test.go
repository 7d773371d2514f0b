package validation

import "testing"

func TestPanelUsername(t *testing.T) {
	tests := []struct {
		name   string
		email  string
		userID int64
		want   string
	}{
		{
			name:   "plain email",
			email:  "steve@example.com",
			userID: 7,
			want:   "steve_7",
		},
		{
			name:   "special characters stripped",
			email:  "john.doe+test@example.com",
			userID: 12,
			want:   "johndoetest_12",
		},
		{
			name:   "long local part truncated",
			email:  "abcdefghijklmnopqrstuvwxyz@example.com",
			userID: 3,
			want:   "abcdefghijklmnopqrst_3",
		},
		{
			name:   "only special characters",
			email:  "+.-@example.com",
			userID: 5,
			want:   "user_5",
		},
		{
			name:   "no at sign",
			email:  "plainname",
			userID: 1,
			want:   "plainname_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PanelUsername(tt.email, tt.userID)
			if got != tt.want {
				t.Fatalf("PanelUsername(%q, %d) = %q, want %q", tt.email, tt.userID, got, tt.want)
			}
		})
	}
}

func TestIsValidPowerAction(t *testing.T) {
	for _, action := range []string{"start", "stop", "restart", "kill"} {
		if !IsValidPowerAction(action) {
			t.Fatalf("IsValidPowerAction(%q) = false, want true", action)
		}
	}

	for _, action := range []string{"", "reboot", "START", "destroy"} {
		if IsValidPowerAction(action) {
			t.Fatalf("IsValidPowerAction(%q) = true, want false", action)
		}
	}
}

func TestNormalizeCouponCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  welcome50  ", "WELCOME50"},
		{"Spring2026", "SPRING2026"},
		{"ALREADYUPPER", "ALREADYUPPER"},
	}

	for _, tt := range tests {
		if got := NormalizeCouponCode(tt.in); got != tt.want {
			t.Fatalf("NormalizeCouponCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
