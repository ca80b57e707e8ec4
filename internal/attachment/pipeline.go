// Package attachment classifies, encodes, and uploads pending local
// attachments before a turn is sent.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/set-night/flowchat/internal/config"
	"github.com/set-night/flowchat/internal/domain"
	"github.com/set-night/flowchat/internal/flowise"
)

// Ingestor is the slice of the backend client the upload step needs.
type Ingestor interface {
	CreateAttachments(ctx context.Context, flowID, chatID string, files []flowise.AttachmentFile) ([]flowise.CreatedAttachment, error)
	UpsertVector(ctx context.Context, flowID, chatID string, files []flowise.AttachmentFile) error
}

// FileInfo is what classification needs to know about a local file.
type FileInfo struct {
	Name string
	MIME string
	Size int64
}

// Source is one local file to encode; Open is called once per encode.
type Source struct {
	Name string
	MIME string
	Size int64
	Open func() (io.ReadCloser, error)
}

// StagedFile is a raw file retained for the upload step, with the tag it
// will be finalized under.
type StagedFile struct {
	File flowise.AttachmentFile
	Tag  domain.ClassificationTag
}

// Pipeline runs the pre-send attachment work for one session, configured
// from the flow's upload constraints read at session open.
type Pipeline struct {
	ingestor       Ingestor
	constraints    *flowise.UploadConstraints
	fullFileUpload bool
	settleDelay    time.Duration
}

func New(ingestor Ingestor, constraints *flowise.UploadConstraints, fullFileUpload bool) *Pipeline {
	if constraints == nil {
		constraints = &flowise.UploadConstraints{}
	}
	return &Pipeline{
		ingestor:       ingestor,
		constraints:    constraints,
		fullFileUpload: fullFileUpload,
		settleDelay:    config.RAGSettleDelay,
	}
}

// Classify reports whether one file may enter the pending batch. A single
// rejection discards the whole batch.
func (p *Pipeline) Classify(f FileInfo) bool {
	return Allowed(f, p.constraints, p.fullFileUpload)
}

// Allowed is the pure classification rule. Precedence: full-file-upload
// mode accepts unconditionally; otherwise the file must satisfy a
// configured image rule (MIME type and size) or a configured document rule
// (extension, where a type list of exactly "*" matches anything).
func Allowed(f FileInfo, c *flowise.UploadConstraints, fullFileUpload bool) bool {
	if fullFileUpload {
		return true
	}
	if c == nil {
		return false
	}

	if c.IsImageUploadAllowed {
		sizeMB := float64(f.Size) / float64(config.BytesPerMB)
		for _, rule := range c.ImgUploadSizeAndTypes {
			if containsType(rule.FileTypes, f.MIME) && sizeMB <= rule.MaxUploadSize {
				return true
			}
		}
	}

	if c.IsRAGFileUploadAllowed {
		ext := fileExt(f.Name)
		for _, rule := range c.FileUploadSizeAndTypes {
			if len(rule.FileTypes) == 1 && rule.FileTypes[0] == "*" {
				return true
			}
			if ext != "" && containsType(rule.FileTypes, "."+ext) {
				return true
			}
		}
	}
	return false
}

// EncodeBatch reads all sources concurrently and joins the results. A
// failed read is reported but does not cancel its siblings; the successes
// are returned alongside the joined error.
func (p *Pipeline) EncodeBatch(ctx context.Context, sources []Source) ([]domain.Attachment, []StagedFile, error) {
	type result struct {
		draft  *domain.Attachment
		staged *StagedFile
		err    error
	}

	results := make([]result, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			draft, staged, err := p.encode(src)
			results[i] = result{draft: draft, staged: staged, err: err}
		}(i, src)
	}
	wg.Wait()

	var drafts []domain.Attachment
	var staged []StagedFile
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		if r.draft != nil {
			drafts = append(drafts, *r.draft)
		}
		if r.staged != nil {
			staged = append(staged, *r.staged)
		}
	}
	return drafts, staged, errors.Join(errs...)
}

func (p *Pipeline) encode(src Source) (*domain.Attachment, *StagedFile, error) {
	r, err := src.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", src.Name, err)
	}

	draft := &domain.Attachment{
		Name: src.Name,
		MIME: src.MIME,
		Data: "data:" + src.MIME + ";base64," + base64.StdEncoding.EncodeToString(data),
		Kind: kindForMIME(src.MIME),
	}
	if draft.Kind == domain.AttachmentAudio {
		// Audio payloads get a fixed preview asset instead of decoding.
		draft.Preview = config.AudioPreviewAsset
	} else {
		draft.Preview = draft.Data
	}

	// Audio travels inline with the prediction payload and is never part
	// of the document upload step.
	var stagedFile *StagedFile
	if draft.Kind != domain.AttachmentAudio && !p.isAllowedImageType(src.MIME) {
		tag := domain.TagFileRAG
		if p.fullFileUpload {
			tag = domain.TagFileFull
		}
		stagedFile = &StagedFile{
			File: flowise.AttachmentFile{Name: src.Name, MIME: src.MIME, Data: data},
			Tag:  tag,
		}
	}
	return draft, stagedFile, nil
}

// FromTextFragment turns a drag-sourced text fragment into a URL
// attachment. A uri-list fragment is used verbatim; an html fragment must
// carry an href attribute; anything else yields nil.
func FromTextFragment(fragmentType, data string) *domain.Attachment {
	switch {
	case strings.HasPrefix(fragmentType, "text/uri-list"):
		return urlAttachment(strings.TrimSpace(data))
	case strings.HasPrefix(fragmentType, "text/html"):
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(data))
		if err != nil {
			return nil
		}
		href, ok := doc.Find("[href]").First().Attr("href")
		if !ok || href == "" {
			return nil
		}
		return urlAttachment(href)
	}
	return nil
}

func urlAttachment(url string) *domain.Attachment {
	if url == "" {
		return nil
	}
	return &domain.Attachment{
		Name:    url[strings.LastIndex(url, "/")+1:],
		Data:    url,
		Preview: url,
		Kind:    domain.AttachmentURL,
	}
}

// Upload finalizes one turn's batch before the user message is appended.
// Full-file drafts go as one multipart request and the returned content is
// matched back by file name; RAG drafts go as one multipart request
// followed by a settle wait for the vector index. Any call failure aborts
// the whole turn.
func (p *Pipeline) Upload(ctx context.Context, session domain.Session, drafts []domain.Attachment, staged []StagedFile) ([]domain.Attachment, error) {
	if len(staged) == 0 {
		return drafts, nil
	}

	if p.fullFileUpload {
		files := filesByTag(staged, domain.TagFileFull)
		if len(files) == 0 {
			return drafts, nil
		}
		created, err := p.ingestor.CreateAttachments(ctx, session.FlowID, session.ChatID, files)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
		}
		for _, record := range created {
			for i := range drafts {
				if drafts[i].Name == record.Name {
					drafts[i].Data = record.Content
					drafts[i].Tag = domain.TagFileFull
					break
				}
			}
			// Records with no matching draft are left as-sent.
		}
		return drafts, nil
	}

	if p.constraints.IsRAGFileUploadAllowed {
		files := filesByTag(staged, domain.TagFileRAG)
		if len(files) == 0 {
			return drafts, nil
		}
		if err := p.ingestor.UpsertVector(ctx, session.FlowID, session.ChatID, files); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
		}
		// The upsert acknowledges receipt, not queryability; hold the turn
		// until the index has had time to settle.
		if err := sleepCtx(ctx, p.settleDelay); err != nil {
			return nil, err
		}
		for i := range drafts {
			drafts[i].Tag = domain.TagFileRAG
		}
	}
	return drafts, nil
}

func (p *Pipeline) isAllowedImageType(mime string) bool {
	if mime == "" {
		return false
	}
	for _, rule := range p.constraints.ImgUploadSizeAndTypes {
		if containsType(rule.FileTypes, mime) {
			return true
		}
	}
	return false
}

func filesByTag(staged []StagedFile, tag domain.ClassificationTag) []flowise.AttachmentFile {
	var files []flowise.AttachmentFile
	for _, s := range staged {
		if s.Tag == tag {
			files = append(files, s.File)
		}
	}
	return files
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func fileExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func kindForMIME(mime string) domain.AttachmentKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.AttachmentImage
	case strings.HasPrefix(mime, "audio/"):
		return domain.AttachmentAudio
	default:
		return domain.AttachmentFile
	}
}
