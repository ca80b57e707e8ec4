package attachment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/flowise"
)

type fakeIngestor struct {
	createdFiles  []flowise.AttachmentFile
	createResult  []flowise.CreatedAttachment
	createErr     error
	upsertedFiles []flowise.AttachmentFile
	upsertErr     error
}

func (f *fakeIngestor) CreateAttachments(_ context.Context, _, _ string, files []flowise.AttachmentFile) ([]flowise.CreatedAttachment, error) {
	f.createdFiles = files
	return f.createResult, f.createErr
}

func (f *fakeIngestor) UpsertVector(_ context.Context, _, _ string, files []flowise.AttachmentFile) error {
	f.upsertedFiles = files
	return f.upsertErr
}

func ragConstraints() *flowise.UploadConstraints {
	return &flowise.UploadConstraints{
		IsImageUploadAllowed:   true,
		ImgUploadSizeAndTypes:  []flowise.UploadRule{{FileTypes: []string{"image/png", "image/jpeg"}, MaxUploadSize: 5}},
		IsRAGFileUploadAllowed: true,
		FileUploadSizeAndTypes: []flowise.UploadRule{{FileTypes: []string{".pdf", ".txt"}, MaxUploadSize: 10}},
	}
}

func TestAllowed(t *testing.T) {
	c := ragConstraints()

	tests := []struct {
		name     string
		file     FileInfo
		fullMode bool
		want     bool
	}{
		{"png within size", FileInfo{Name: "a.png", MIME: "image/png", Size: 2 << 20}, false, true},
		{"png too large", FileInfo{Name: "a.png", MIME: "image/png", Size: 6 << 20}, false, false},
		{"gif not configured", FileInfo{Name: "a.gif", MIME: "image/gif", Size: 1 << 20}, false, false},
		{"pdf by extension", FileInfo{Name: "doc.pdf", MIME: "application/pdf", Size: 1 << 20}, false, true},
		{"exe rejected", FileInfo{Name: "x.exe", MIME: "application/octet-stream", Size: 1 << 20}, false, false},
		{"full mode accepts anything", FileInfo{Name: "x.exe", MIME: "application/octet-stream", Size: 50 << 20}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allowed(tt.file, c, tt.fullMode)
			assert.Equal(t, tt.want, got)
			// Pure: the same inputs always classify the same way.
			assert.Equal(t, got, Allowed(tt.file, c, tt.fullMode))
		})
	}
}

func TestAllowedWildcardRule(t *testing.T) {
	c := &flowise.UploadConstraints{
		IsRAGFileUploadAllowed: true,
		FileUploadSizeAndTypes: []flowise.UploadRule{{FileTypes: []string{"*"}}},
	}
	assert.True(t, Allowed(FileInfo{Name: "anything.xyz"}, c, false))
}

func byteSource(name, mime, content string) Source {
	return Source{
		Name: name,
		MIME: mime,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestEncodeBatch(t *testing.T) {
	p := New(&fakeIngestor{}, ragConstraints(), false)

	drafts, staged, err := p.EncodeBatch(context.Background(), []Source{
		byteSource("pic.png", "image/png", "pngbytes"),
		byteSource("doc.pdf", "application/pdf", "pdfbytes"),
		byteSource("note.wav", "audio/wav", "wavbytes"),
	})
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	assert.Equal(t, domain.AttachmentImage, drafts[0].Kind)
	assert.True(t, strings.HasPrefix(drafts[0].Data, "data:image/png;base64,"))
	assert.Equal(t, drafts[0].Data, drafts[0].Preview)

	assert.Equal(t, domain.AttachmentFile, drafts[1].Kind)
	assert.Equal(t, domain.AttachmentAudio, drafts[2].Kind)
	assert.Equal(t, "wave-sound.jpg", drafts[2].Preview)

	// Only non-image, non-audio files are retained for the upload step.
	require.Len(t, staged, 1)
	assert.Equal(t, "doc.pdf", staged[0].File.Name)
	assert.Equal(t, domain.TagFileRAG, staged[0].Tag)
}

func TestEncodeBatchFullModeTag(t *testing.T) {
	p := New(&fakeIngestor{}, ragConstraints(), true)

	_, staged, err := p.EncodeBatch(context.Background(), []Source{
		byteSource("doc.pdf", "application/pdf", "pdfbytes"),
	})
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, domain.TagFileFull, staged[0].Tag)
}

func TestEncodeBatchFailureDoesNotCancelSiblings(t *testing.T) {
	p := New(&fakeIngestor{}, ragConstraints(), false)

	broken := Source{
		Name: "broken.pdf",
		MIME: "application/pdf",
		Open: func() (io.ReadCloser, error) { return nil, errors.New("disk gone") },
	}
	drafts, _, err := p.EncodeBatch(context.Background(), []Source{
		byteSource("a.pdf", "application/pdf", "aaa"),
		broken,
		byteSource("b.pdf", "application/pdf", "bbb"),
	})

	require.Error(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "a.pdf", drafts[0].Name)
	assert.Equal(t, "b.pdf", drafts[1].Name)
}

func TestFromTextFragment(t *testing.T) {
	a := FromTextFragment("text/uri-list", "https://example.com/page\n")
	require.NotNil(t, a)
	assert.Equal(t, domain.AttachmentURL, a.Kind)
	assert.Equal(t, "https://example.com/page", a.Data)
	assert.Equal(t, "page", a.Name)

	a = FromTextFragment("text/html", `<a href="https://example.com/doc.pdf">doc</a>`)
	require.NotNil(t, a)
	assert.Equal(t, "https://example.com/doc.pdf", a.Data)

	assert.Nil(t, FromTextFragment("text/html", `<p>no links here</p>`))
	assert.Nil(t, FromTextFragment("text/plain", "just text"))
}

func TestUploadFullFileMatchesByName(t *testing.T) {
	ing := &fakeIngestor{
		createResult: []flowise.CreatedAttachment{
			{Name: "doc.pdf", Content: "extracted content"},
			{Name: "ghost.pdf", Content: "no draft for this one"},
		},
	}
	p := New(ing, ragConstraints(), true)

	drafts := []domain.Attachment{
		{Name: "doc.pdf", Kind: domain.AttachmentFile, Data: "data:application/pdf;base64,xxx"},
		{Name: "other.txt", Kind: domain.AttachmentFile, Data: "data:text/plain;base64,yyy"},
	}
	staged := []StagedFile{
		{File: flowise.AttachmentFile{Name: "doc.pdf"}, Tag: domain.TagFileFull},
	}

	out, err := p.Upload(context.Background(), domain.Session{FlowID: "f", ChatID: "c"}, drafts, staged)
	require.NoError(t, err)
	require.Len(t, ing.createdFiles, 1)

	assert.Equal(t, "extracted content", out[0].Data)
	assert.Equal(t, domain.TagFileFull, out[0].Tag)
	// Unmatched draft left as-sent.
	assert.Equal(t, "data:text/plain;base64,yyy", out[1].Data)
	assert.Equal(t, domain.TagNone, out[1].Tag)
}

func TestUploadRAGSettlesAndTagsBatch(t *testing.T) {
	ing := &fakeIngestor{}
	p := New(ing, ragConstraints(), false)
	p.settleDelay = 10 * time.Millisecond

	drafts := []domain.Attachment{
		{Name: "doc.pdf", Kind: domain.AttachmentFile},
		{Name: "pic.png", Kind: domain.AttachmentImage},
	}
	staged := []StagedFile{
		{File: flowise.AttachmentFile{Name: "doc.pdf"}, Tag: domain.TagFileRAG},
	}

	started := time.Now()
	out, err := p.Upload(context.Background(), domain.Session{FlowID: "f", ChatID: "c"}, drafts, staged)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(started), 10*time.Millisecond)
	require.Len(t, ing.upsertedFiles, 1)
	for _, a := range out {
		assert.Equal(t, domain.TagFileRAG, a.Tag)
	}
}

func TestUploadFailureAbortsTurn(t *testing.T) {
	ing := &fakeIngestor{upsertErr: errors.New("503 from vector store")}
	p := New(ing, ragConstraints(), false)

	_, err := p.Upload(context.Background(), domain.Session{}, []domain.Attachment{{Name: "doc.pdf"}},
		[]StagedFile{{File: flowise.AttachmentFile{Name: "doc.pdf"}, Tag: domain.TagFileRAG}})

	require.ErrorIs(t, err, domain.ErrUploadFailed)
}

func TestUploadNothingStaged(t *testing.T) {
	ing := &fakeIngestor{}
	p := New(ing, ragConstraints(), false)

	drafts := []domain.Attachment{{Name: "pic.png", Kind: domain.AttachmentImage}}
	out, err := p.Upload(context.Background(), domain.Session{}, drafts, nil)
	require.NoError(t, err)
	assert.Equal(t, drafts, out)
	assert.Nil(t, ing.upsertedFiles)
	assert.Nil(t, ing.createdFiles)
}
