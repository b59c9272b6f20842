package hvp

import "testing"

func TestFilterEntriesByPrefix(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Name: "data/levels/l1.bin"},
		{Name: "data/levels/l2.bin"},
		{Name: "data/levelsX/bonus.bin"},
		{Name: "Data/Sounds/muse.wav"},
		{Name: "readme.txt"},
	}

	testCases := []struct {
		name   string
		prefix string
		want   []string
	}{
		{
			name:   "directory prefix",
			prefix: "data/levels",
			want:   []string{"data/levels/l1.bin", "data/levels/l2.bin"},
		},
		{
			name:   "case insensitive with backslashes",
			prefix: `DATA\SOUNDS`,
			want:   []string{"Data/Sounds/muse.wav"},
		},
		{
			name:   "exact file name",
			prefix: "readme.txt",
			want:   []string{"readme.txt"},
		},
		{
			name:   "no matches",
			prefix: "video",
			want:   nil,
		},
		{
			name:   "empty prefix keeps everything",
			prefix: "",
			want:   []string{"data/levels/l1.bin", "data/levels/l2.bin", "data/levelsX/bonus.bin", "Data/Sounds/muse.wav", "readme.txt"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := filterEntriesByPrefix(entries, tc.prefix)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i].Name != tc.want[i] {
					t.Fatalf("entry %d = %q, want %q", i, got[i].Name, tc.want[i])
				}
			}
		})
	}
}

func TestEntriesUnder(t *testing.T) {
	t.Parallel()

	path := buildTestArchive(t, "obscure1-pc", map[string][]byte{
		"maps/town.bin":  []byte("t"),
		"maps/house.bin": []byte("h"),
		"sounds/a.wav":   []byte("a"),
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	under := r.EntriesUnder("maps")
	if len(under) != 2 {
		t.Fatalf("got %d entries under maps, want 2", len(under))
	}
	for _, e := range under {
		if e.Name != "maps/town.bin" && e.Name != "maps/house.bin" {
			t.Fatalf("unexpected entry %q", e.Name)
		}
	}
}
