package source

import "testing"

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "BMW 320d", "BMW 320d"},
		{"collapse whitespace", "  BMW   320d \n 2005 ", "BMW 320d 2005"},
		{"non-breaking space", "1 200 €", "1 200 €"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"plain", "1500", 1500},
		{"currency", "1 500 €", 1500},
		{"thousand separator", "189 000 km", 189000},
		{"decimal comma", "1,9 l", 1},
		{"no digits", "Benzinas", 0},
		{"negative", "-5", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeNumber(tt.in); got != tt.want {
				t.Errorf("NormalizeNumber(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestExternalIDFromURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"autoplius", "https://autoplius.lt/skelbimai/bmw-320d-1234567.html", "1234567"},
		{"autogidas", "/skelbimas/audi-a4-7654321.html", "7654321"},
		{"relative", "bmw-111.html", "111"},
		{"no dash", "skelbimas.html", "skelbimas"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := externalIDFromURL(tt.in); got != tt.want {
				t.Errorf("externalIDFromURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name string
		href string
		base string
		want string
	}{
		{"absolute stays", "https://autoplius.lt/skelbimai/a-1.html", "https://autoplius.lt/skelbimai", "https://autoplius.lt/skelbimai/a-1.html"},
		{"relative path", "/skelbimai/a-1.html", "https://autoplius.lt/skelbimai/naudoti-automobiliai?page=2", "https://autoplius.lt/skelbimai/a-1.html"},
		{"empty href", "", "https://autoplius.lt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveURL(tt.href, tt.base); got != tt.want {
				t.Errorf("resolveURL(%q, %q) = %q, want %q", tt.href, tt.base, got, tt.want)
			}
		})
	}
}

func TestParseDateParts(t *testing.T) {
	tests := []struct {
		name                  string
		in                    string
		wantY, wantM, wantD   int
	}{
		{"full date", "2026-04-15", 2026, 4, 15},
		{"year month", "2026-04", 2026, 4, 0},
		{"year only", "2005", 2005, 0, 0},
		{"empty", "", 0, 0, 0},
		{"padded", " 2026-04-15 ", 2026, 4, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, m, d := parseDateParts(tt.in)
			if y != tt.wantY || m != tt.wantM || d != tt.wantD {
				t.Errorf("parseDateParts(%q) = (%d, %d, %d), want (%d, %d, %d)",
					tt.in, y, m, d, tt.wantY, tt.wantM, tt.wantD)
			}
		})
	}
}

func TestGalleryImageRegex(t *testing.T) {
	script := `
		gallery.addImage('https://img.autogidas.lt/1.jpg', 'image', 0);
		gallery.addImage( 'https://img.autogidas.lt/2.jpg' , 'image', 1);
		gallery.addImage('https://img.autogidas.lt/clip.mp4', 'video', 2);
	`
	matches := autogidasGalleryRe.FindAllStringSubmatch(script, -1)
	if len(matches) != 2 {
		t.Fatalf("expected 2 image matches, got %d", len(matches))
	}
	if matches[0][1] != "https://img.autogidas.lt/1.jpg" {
		t.Errorf("unexpected first image: %q", matches[0][1])
	}
	if matches[1][1] != "https://img.autogidas.lt/2.jpg" {
		t.Errorf("unexpected second image: %q", matches[1][1])
	}
}
