package note

import "testing"

func TestResolvePublishPath(t *testing.T) {
	tests := []struct {
		name string
		base string
		sub  string
		item string
		want string
	}{
		{name: "clean segments", base: "site", sub: "content", item: "a.md", want: "site/content/a.md"},
		{name: "surrounding slashes", base: "/site/", sub: "/content/", item: "/a.md/", want: "site/content/a.md"},
		{name: "empty base", base: "", sub: "content", item: "a.md", want: "content/a.md"},
		{name: "empty sub", base: "site", sub: "", item: "a.md", want: "site/a.md"},
		{name: "all empty", base: "", sub: "", item: "", want: ""},
		{name: "nested item", base: "site", sub: "assets", item: "img/pic.png", want: "site/assets/img/pic.png"},
		{name: "slash-only segment", base: "/", sub: "content", item: "a.md", want: "content/a.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolvePublishPath(tt.base, tt.sub, tt.item)
			if got != tt.want {
				t.Errorf("ResolvePublishPath(%q, %q, %q) = %q, want %q", tt.base, tt.sub, tt.item, got, tt.want)
			}
			// Must be stable: a second call yields the identical string.
			if again := ResolvePublishPath(tt.base, tt.sub, tt.item); again != got {
				t.Errorf("ResolvePublishPath not stable: %q then %q", got, again)
			}
		})
	}
}
