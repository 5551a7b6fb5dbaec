package storage

import (
	"path/filepath"
	"testing"
)

func TestBuildPath(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     *ArchivePathData
		want     string
		wantErr  bool
	}{
		{
			name:     "default template",
			template: "{{.Series}}/{{.Chapter}}",
			data:     &ArchivePathData{Series: "Berserk", Chapter: "Chapter 1"},
			want:     "Berserk/Chapter 1",
		},
		{
			name:     "provider folder",
			template: "{{.Provider}}/{{.Series}}/{{.Chapter}}",
			data:     &ArchivePathData{Series: "Berserk", Chapter: "Chapter 1", Provider: "mockadex"},
			want:     "mockadex/Berserk/Chapter 1",
		},
		{
			name:     "invalid template syntax",
			template: "{{.Series",
			data:     &ArchivePathData{},
			wantErr:  true,
		},
		{
			name:     "unknown field",
			template: "{{.Volume}}",
			data:     &ArchivePathData{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPath(tt.template, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("BuildPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewArchivePathData(t *testing.T) {
	data := NewArchivePathData("Fate/Zero", "Ch. 3: Night?", "")

	if data.Series != "FateZero" {
		t.Errorf("Series = %q", data.Series)
	}
	if data.Chapter != "Ch. 3- Night-" {
		t.Errorf("Chapter = %q", data.Chapter)
	}
	if data.Provider != "untitled" {
		t.Errorf("Provider = %q", data.Provider)
	}
}

func TestBuildFullPath(t *testing.T) {
	root := filepath.Join("srv", "library")

	got, err := BuildFullPath(root, "{{.Series}}/{{.Chapter}}", &ArchivePathData{Series: "Berserk", Chapter: "Chapter 1"}, "cbz")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "Berserk", "Chapter 1.cbz")
	if got != want {
		t.Errorf("BuildFullPath() = %q, want %q", got, want)
	}
}

func TestBuildFullPathStaysUnderRoot(t *testing.T) {
	root := filepath.Join("srv", "library")

	got, err := BuildFullPath(root, "../../{{.Chapter}}", &ArchivePathData{Chapter: "escape"}, ".cbz")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(root, "escape.cbz") {
		t.Errorf("Expected path clamped under root, got %q", got)
	}
}

func TestParseExtension(t *testing.T) {
	if ParseExtension("cbz") != ".cbz" || ParseExtension(".cbz") != ".cbz" || ParseExtension("") != "" {
		t.Error("ParseExtension did not normalise")
	}
}
