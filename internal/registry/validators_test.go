package registry

import "testing"

func TestIsValidSDK(t *testing.T) {
	tests := []struct {
		sdk  string
		want bool
	}{
		{"ACEFHKMN", true},
		{"acefhkmn", true},
		{"AaCcEeFf", true},
		{"ACEFHKM", false},   // 太短
		{"ACEFHKMNT", false}, // 太长
		{"ACEFHKMZ", false},  // 字母表之外
		{"ACEFHKM1", false},  // 含数字
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidSDK(tt.sdk); got != tt.want {
			t.Errorf("IsValidSDK(%q) = %v, want %v", tt.sdk, got, tt.want)
		}
	}
}

func TestIsValidVIN(t *testing.T) {
	tests := []struct {
		vin  string
		want bool
	}{
		{"WVWZZZ3CZLE123456", true},
		{"wvwzzz3czle123456", true},
		{"WVWZZZ3CZLE12345", false},   // 太短
		{"WVWZZZ3CZLE1234567", false}, // 太长
		{"WVWZZZ3CZLE12345!", false},  // 非法字符
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidVIN(tt.vin); got != tt.want {
			t.Errorf("IsValidVIN(%q) = %v, want %v", tt.vin, got, tt.want)
		}
	}
}
