package validate

import "testing"

func TestSafeTitle(t *testing.T) {
	cases := map[string]string{
		"normal title":       "normal title",
		"weird:/chars*?<>|":  "weird_chars_",
		"   trim me.  ":      "trim me",
		"":                   "untitled",
	}
	for in, want := range cases {
		got := SafeTitle(in)
		if got != want {
			t.Errorf("SafeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpandTemplate(t *testing.T) {
	f := TemplateFields{
		ID:             "abc123",
		Title:          "My Video",
		Ext:            "mp4",
		Uploader:       "someone",
		Date:           "20260101",
		Playlist:       "myplaylist",
		PlaylistIndex:  3,
		HasPlaylistIdx: true,
	}
	got := ExpandTemplate("{uploader}/{playlist}/{playlist_index}-{safe_title}.{ext}", f)
	want := "someone/myplaylist/3-My Video.mp4"
	if got != want {
		t.Errorf("ExpandTemplate = %q, want %q", got, want)
	}
}

func TestExpandTemplate_NoPlaylistIndex(t *testing.T) {
	got := ExpandTemplate("{id}-{playlist_index}", TemplateFields{ID: "x"})
	if got != "x-" {
		t.Errorf("ExpandTemplate = %q, want %q", got, "x-")
	}
}
