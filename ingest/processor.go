package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ahasler/recall/dedup"
	"github.com/ahasler/recall/extract"
	"github.com/ahasler/recall/graph"
	"github.com/ahasler/recall/infer"
	"github.com/ahasler/recall/objstore"
	"github.com/ahasler/recall/vector"
)

// GraphWriter is the graph surface the processor needs.
type GraphWriter interface {
	IngestBundle(ctx context.Context, b graph.Bundle) error
	UpsertNode(ctx context.Context, n graph.Node) error
	UpsertEdge(ctx context.Context, e graph.Edge) error
}

// VectorWriter is the vector index surface the processor needs.
type VectorWriter interface {
	Upsert(ctx context.Context, table string, rows []vector.Row) error
}

// Embedder produces normalized text vectors, order-preserving.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageEmbedder produces a joint-space vector for one image file.
type ImageEmbedder interface {
	EmbedFile(ctx context.Context, path string) ([]float32, error)
}

// Deduper scans and registers file fingerprints.
type Deduper interface {
	CheckText(ctx context.Context, fileSHA string, fp uint64) ([]string, error)
	CheckImage(ctx context.Context, fileSHA string, fp uint64) ([]string, error)
}

// Processor turns one payload into a graph bundle, vector rows, and
// dedup fingerprints. Safe for concurrent use.
type Processor struct {
	graph    GraphWriter
	vectors  VectorWriter
	objects  objstore.Store
	extract  *extract.Registry
	embed    Embedder
	imgEmbed ImageEmbedder
	dedup    Deduper
	http     *http.Client
	log      *slog.Logger
}

// ProcessorDeps lists the collaborators for NewProcessor. ImgEmbed may
// be nil; image rows are then skipped.
type ProcessorDeps struct {
	Graph    GraphWriter
	Vectors  VectorWriter
	Objects  objstore.Store
	Extract  *extract.Registry
	Embed    Embedder
	ImgEmbed ImageEmbedder
	Dedup    Deduper
	HTTP     *http.Client
	Log      *slog.Logger
}

// NewProcessor wires a processor.
func NewProcessor(d ProcessorDeps) *Processor {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Processor{
		graph:    d.Graph,
		vectors:  d.Vectors,
		objects:  d.Objects,
		extract:  d.Extract,
		embed:    d.Embed,
		imgEmbed: d.ImgEmbed,
		dedup:    d.Dedup,
		http:     d.HTTP,
		log:      d.Log,
	}
}

// blockUnit is one text block accumulated during the file loop.
type blockUnit struct {
	key       string
	blockType string
	text      string
	pageKey   string // empty for transcript blocks
	fileURI   string
	mimeType  string
	vector    []float32
}

// fileUnit is the per-file state accumulated during the loop.
type fileUnit struct {
	sha       string
	uri       string
	mimeType  string
	filename  string
	sizeBytes int64
	pageKey   string
	pageIdx   int
	blocks    []int // indexes into the shared block list
	phash     uint64
	hasPhash  bool
	imgVector []float32
	audioKey  string
	duration  float64
	createdAt string
	dupSHAs   []string
}

// Process runs one payload end to end. Errors returned here mean the
// payload failed before the graph commit point and belongs on the
// dead-letter list; post-commit degradations are logged instead.
func (p *Processor) Process(ctx context.Context, pl *Payload) error {
	if pl.Document.DocID == "" {
		return fmt.Errorf("%w: missing doc_id", ErrInvalidPayload)
	}
	docID := pl.Document.DocID
	start := time.Now()

	var (
		files  []fileUnit
		blocks []blockUnit
	)

	// Files are processed strictly in list order: page index = file index.
	for i, f := range pl.Files {
		fu, err := p.processFile(ctx, docID, i, f, &blocks)
		if err != nil {
			return fmt.Errorf("file %d (%s): %w", i, f.URI, err)
		}
		files = append(files, *fu)
	}

	// Connector-provided block passthrough.
	if pl.Block != nil && pl.Block.BlockID != "" {
		blocks = append(blocks, blockUnit{
			key:       pl.Block.BlockID,
			blockType: pl.Block.BlockType,
			text:      pl.Block.TextContent,
			pageKey:   pl.Block.PageID,
			vector:    pl.Block.TextVector,
		})
	}

	if err := p.embedBlocks(ctx, blocks); err != nil {
		return err
	}

	bundle := p.buildBundle(pl, files, blocks)
	if err := p.graph.IngestBundle(ctx, bundle); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBundleWrite, docID, err)
	}

	// The bundle is the commit point. Everything below is a derived view
	// or a side facet: failures are logged, never returned.
	p.upsertVectors(ctx, pl, docID, files, blocks)
	p.writeSideFacets(ctx, pl, files)

	p.log.Info("payload processed",
		"doc_id", docID,
		"files", len(files),
		"blocks", len(blocks),
		"elapsed", time.Since(start))
	return nil
}

func (p *Processor) processFile(ctx context.Context, docID string, idx int, f File, blocks *[]blockUnit) (*fileUnit, error) {
	local, cleanup, err := p.localize(ctx, f)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	sha, err := dedup.SHA256File(local)
	if err != nil {
		return nil, err
	}
	var size int64
	if st, err := os.Stat(local); err == nil {
		size = st.Size()
	}

	filename := baseName(f.URI)
	uri, err := p.objects.Put(ctx, objstore.ObjectKey(docID, filename), local, f.MimeType)
	if err != nil {
		return nil, fmt.Errorf("object upload: %w", err)
	}

	fu := &fileUnit{
		sha:       sha,
		uri:       uri,
		mimeType:  f.MimeType,
		filename:  filename,
		sizeBytes: size,
		pageKey:   fmt.Sprintf("%s::page::%d", docID, idx),
		pageIdx:   idx,
		duration:  f.DurationSeconds,
		createdAt: f.CreatedAt,
	}

	res := p.extract.Extract(ctx, f.MimeType, local)

	switch {
	case strings.HasPrefix(f.MimeType, "audio/"):
		fu.audioKey = fmt.Sprintf("%s::audio::%d", docID, idx)
		if len(res.Pages) > 0 {
			// Transcript blocks hang off the audio facet, not a page.
			*blocks = append(*blocks, blockUnit{
				key:       fmt.Sprintf("%s::transcript::%d", docID, idx),
				blockType: "text",
				text:      res.Pages[0].Text,
				fileURI:   uri,
				mimeType:  f.MimeType,
			})
			fu.blocks = append(fu.blocks, len(*blocks)-1)
		}

	case strings.HasPrefix(f.MimeType, "image/"):
		if ph, err := dedup.PhashFile(local); err == nil {
			fu.phash, fu.hasPhash = ph, true
			if dups, err := p.dedup.CheckImage(ctx, sha, ph); err == nil {
				fu.dupSHAs = dups
			} else {
				p.log.Warn("image dedup failed", "doc_id", docID, "err", err)
			}
		} else {
			p.log.Warn("perceptual hash failed", "doc_id", docID, "path", local, "err", err)
		}
		if p.imgEmbed != nil {
			if vec, err := p.imgEmbed.EmbedFile(ctx, local); err == nil {
				fu.imgVector = vec
			} else {
				p.log.Warn("image embedding failed", "doc_id", docID, "err", err)
			}
		}
		if len(res.Pages) > 0 && res.Pages[0].Text != "" {
			*blocks = append(*blocks, blockUnit{
				key:       fu.pageKey + "#image",
				blockType: "image",
				text:      res.Pages[0].Text,
				pageKey:   fu.pageKey,
				fileURI:   uri,
				mimeType:  f.MimeType,
			})
			fu.blocks = append(fu.blocks, len(*blocks)-1)
		}

	case f.MimeType == "application/pdf":
		for _, page := range res.Pages {
			if page.Text == "" {
				continue
			}
			*blocks = append(*blocks, blockUnit{
				key:       fmt.Sprintf("%s#block#%d", fu.pageKey, page.Index),
				blockType: "pdf_page",
				text:      page.Text,
				pageKey:   fu.pageKey,
				fileURI:   uri,
				mimeType:  f.MimeType,
			})
			fu.blocks = append(fu.blocks, len(*blocks)-1)
		}
		p.dedupText(ctx, docID, fu, res)

	default:
		if text := joinPages(res); text != "" {
			*blocks = append(*blocks, blockUnit{
				key:       fu.pageKey + "#block",
				blockType: "text",
				text:      text,
				pageKey:   fu.pageKey,
				fileURI:   uri,
				mimeType:  f.MimeType,
			})
			fu.blocks = append(fu.blocks, len(*blocks)-1)
		}
		p.dedupText(ctx, docID, fu, res)
	}

	return fu, nil
}

func (p *Processor) dedupText(ctx context.Context, docID string, fu *fileUnit, res *extract.Result) {
	text := joinPages(res)
	if text == "" {
		return
	}
	dups, err := p.dedup.CheckText(ctx, fu.sha, dedup.Simhash(text))
	if err != nil {
		p.log.Warn("text dedup failed", "doc_id", docID, "err", err)
		return
	}
	fu.dupSHAs = dups
}

// embedBlocks fills in missing vectors with a single batched call.
func (p *Processor) embedBlocks(ctx context.Context, blocks []blockUnit) error {
	var (
		texts   []string
		targets []int
	)
	for i, b := range blocks {
		if b.text != "" && b.vector == nil {
			texts = append(texts, b.text)
			targets = append(targets, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := p.embed.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding blocks: %w", err)
	}
	for j, i := range targets {
		blocks[i].vector = vecs[j]
	}
	return nil
}

func (p *Processor) buildBundle(pl *Payload, files []fileUnit, blocks []blockUnit) graph.Bundle {
	docID := pl.Document.DocID
	var b graph.Bundle

	b.Nodes = append(b.Nodes, graph.Node{
		Kind: graph.KindDocument,
		Key:  docID,
		Props: map[string]any{
			"title":      pl.Document.Title,
			"source":     pl.Document.Source,
			"version":    pl.Document.Version,
			"created_at": pl.Document.CreatedAt,
			"valid_from": pl.Document.ValidFrom,
			"valid_to":   pl.Document.ValidTo,
			"text":       pl.Document.Title,
		},
	})

	for _, fu := range files {
		fileProps := map[string]any{
			"uri":        fu.uri,
			"mime_type":  fu.mimeType,
			"filename":   fu.filename,
			"size_bytes": fu.sizeBytes,
			"created_at": fu.createdAt,
		}
		if fu.hasPhash {
			fileProps["perceptual_hash"] = fmt.Sprintf("%016x", fu.phash)
		}
		b.Nodes = append(b.Nodes, graph.Node{Kind: graph.KindFile, Key: fu.sha, Props: fileProps})
		b.Edges = append(b.Edges, graph.Edge{SrcKey: docID, Rel: graph.RelHasFile, DstKey: fu.sha})

		// Page per file, pooled vector = centroid of its block vectors.
		var (
			pageTexts []string
			pageVecs  [][]float32
		)
		for _, bi := range fu.blocks {
			if blocks[bi].text != "" {
				pageTexts = append(pageTexts, blocks[bi].text)
			}
			if blocks[bi].vector != nil {
				pageVecs = append(pageVecs, blocks[bi].vector)
			}
		}
		pageProps := map[string]any{
			"index": fu.pageIdx,
			"text":  strings.Join(pageTexts, "\n\n"),
		}
		if pooled := infer.Centroid(pageVecs); pooled != nil {
			pageProps["pooled_vector"] = pooled
		}
		b.Nodes = append(b.Nodes, graph.Node{Kind: graph.KindPage, Key: fu.pageKey, Props: pageProps})
		b.Edges = append(b.Edges, graph.Edge{SrcKey: fu.pageKey, Rel: graph.RelBelongsTo, DstKey: docID})

		if fu.audioKey != "" {
			b.Nodes = append(b.Nodes, graph.Node{
				Kind:  graph.KindAudio,
				Key:   fu.audioKey,
				Props: map[string]any{"duration_seconds": fu.duration, "uri": fu.uri},
			})
		}
		for _, dup := range fu.dupSHAs {
			b.Edges = append(b.Edges, graph.Edge{SrcKey: fu.sha, Rel: graph.RelNearDuplicate, DstKey: dup})
		}
	}

	for _, bu := range blocks {
		b.Nodes = append(b.Nodes, graph.Node{
			Kind: graph.KindBlock,
			Key:  bu.key,
			Props: map[string]any{
				"block_type": bu.blockType,
				"text":       bu.text,
				"page_id":    bu.pageKey,
			},
		})
		switch {
		case bu.pageKey != "":
			b.Edges = append(b.Edges, graph.Edge{SrcKey: bu.key, Rel: graph.RelChildOf, DstKey: bu.pageKey})
		case strings.Contains(bu.key, "::transcript::"):
			// Linked from its audio facet below.
		default:
			b.Edges = append(b.Edges, graph.Edge{SrcKey: bu.key, Rel: graph.RelBelongsTo, DstKey: docID})
		}
	}

	// Audio facets link their transcript blocks.
	for _, fu := range files {
		if fu.audioKey == "" {
			continue
		}
		for _, bi := range fu.blocks {
			b.Edges = append(b.Edges, graph.Edge{
				SrcKey: fu.audioKey, Rel: graph.RelHasTranscript, DstKey: blocks[bi].key,
			})
		}
	}

	for _, r := range pl.Relationships {
		if r.SourceID == "" || r.TargetID == "" || r.Type == "" {
			continue
		}
		b.Edges = append(b.Edges, graph.Edge{SrcKey: r.SourceID, Rel: r.Type, DstKey: r.TargetID})
	}
	return b
}

func (p *Processor) upsertVectors(ctx context.Context, pl *Payload, docID string, files []fileUnit, blocks []blockUnit) {
	var docRows []vector.Row
	for _, bu := range blocks {
		if bu.vector == nil || bu.text == "" {
			continue
		}
		docRows = append(docRows, vector.Row{
			ID:       bu.key,
			DocID:    docID,
			Text:     bu.text,
			URI:      bu.fileURI,
			MimeType: bu.mimeType,
			Vector:   bu.vector,
		})
	}
	if pl.Email != nil && pl.Email.TextVector != nil {
		docRows = append(docRows, vector.Row{
			ID:       pl.Email.MessageID,
			DocID:    docID,
			Text:     pl.Email.Snippet,
			MimeType: "message/rfc822",
			Vector:   pl.Email.TextVector,
		})
	}
	if len(docRows) > 0 {
		if err := p.vectors.Upsert(ctx, vector.TableDocuments, docRows); err != nil {
			p.log.Warn("vector upsert failed", "doc_id", docID, "table", vector.TableDocuments, "err", err)
		}
	}

	var imgRows []vector.Row
	for _, fu := range files {
		if fu.imgVector == nil {
			continue
		}
		imgRows = append(imgRows, vector.Row{
			ID:       fu.pageKey + "#image",
			DocID:    docID,
			URI:      fu.uri,
			MimeType: fu.mimeType,
			Vector:   fu.imgVector,
		})
	}
	if pl.Image != nil && pl.Image.ImageVector != nil {
		imgRows = append(imgRows, vector.Row{
			ID:     pl.Image.ImageID,
			DocID:  docID,
			Vector: pl.Image.ImageVector,
		})
	}
	if len(imgRows) > 0 {
		if err := p.vectors.Upsert(ctx, vector.TableImages, imgRows); err != nil {
			p.log.Warn("vector upsert failed", "doc_id", docID, "table", vector.TableImages, "err", err)
		}
	}
}

func (p *Processor) writeSideFacets(ctx context.Context, pl *Payload, files []fileUnit) {
	docID := pl.Document.DocID

	if e := pl.Email; e != nil && e.MessageID != "" {
		p.facet(ctx, docID, "email node", p.graph.UpsertNode(ctx, graph.Node{
			Kind: graph.KindEmail,
			Key:  e.MessageID,
			Props: map[string]any{
				"subject":   e.Subject,
				"thread_id": e.ThreadID,
				"sent_at":   e.SentAt,
				"snippet":   e.Snippet,
				"cc_list":   e.CCList,
				"bcc_list":  e.BCCList,
			},
		}))
		p.facet(ctx, docID, "email attachment edge", p.graph.UpsertEdge(ctx,
			graph.Edge{SrcKey: e.MessageID, Rel: graph.RelAttachment, DstKey: docID}))

		if e.Sender != "" {
			p.linkPerson(ctx, docID, e.MessageID, graph.RelSentBy, e.Sender)
		}
		for _, addr := range e.Recipients {
			p.linkPerson(ctx, docID, e.MessageID, graph.RelReceivedBy, addr)
		}
	}

	if im := pl.Image; im != nil && im.ImageID != "" {
		p.facet(ctx, docID, "image node", p.graph.UpsertNode(ctx, graph.Node{
			Kind: graph.KindImage,
			Key:  im.ImageID,
			Props: map[string]any{
				"capture_time_utc":   im.CaptureTimeUTC,
				"capture_time_local": im.CaptureTimeLocal,
				"gps_coords":         im.GPSCoords,
				"image_type":         im.ImageType,
			},
		}))
		if len(files) > 0 {
			p.facet(ctx, docID, "image derived edge", p.graph.UpsertEdge(ctx,
				graph.Edge{SrcKey: im.ImageID, Rel: graph.RelDerivedFrom, DstKey: files[0].sha}))
		}
	}

	if en := pl.Entities; en != nil {
		p.upsertEntities(ctx, docID, graph.KindPerson, en.People)
		p.upsertEntities(ctx, docID, graph.KindOrg, en.Organizations)
		p.upsertEntities(ctx, docID, graph.KindProject, en.Projects)
		p.upsertEntities(ctx, docID, graph.KindPlace, en.Places)
		p.upsertEntities(ctx, docID, graph.KindEvent, en.Events)
	}
}

func (p *Processor) linkPerson(ctx context.Context, docID, messageID, rel, addr string) {
	key := EntityID(graph.KindPerson, addr)
	p.facet(ctx, docID, "person node", p.graph.UpsertNode(ctx, graph.Node{
		Kind:  graph.KindPerson,
		Key:   key,
		Props: map[string]any{"name": addr},
	}))
	p.facet(ctx, docID, "person edge", p.graph.UpsertEdge(ctx,
		graph.Edge{SrcKey: messageID, Rel: rel, DstKey: key}))
}

func (p *Processor) upsertEntities(ctx context.Context, docID, kind string, names []string) {
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		key := EntityID(kind, name)
		p.facet(ctx, docID, kind+" node", p.graph.UpsertNode(ctx, graph.Node{
			Kind:  kind,
			Key:   key,
			Props: map[string]any{"name": name},
		}))
		p.facet(ctx, docID, kind+" edge", p.graph.UpsertEdge(ctx,
			graph.Edge{SrcKey: key, Rel: graph.RelBelongsTo, DstKey: docID}))
	}
}

// facet logs a side-facet failure without failing the payload.
func (p *Processor) facet(ctx context.Context, docID, what string, err error) {
	if err != nil {
		p.log.Warn("side facet write failed", "doc_id", docID, "facet", what, "err", err)
	}
}

// localize resolves a file URI to a local path. HTTP URIs are downloaded
// with the payload's auth headers passed through.
func (p *Processor) localize(ctx context.Context, f File) (string, func(), error) {
	u, err := url.Parse(f.URI)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return p.download(ctx, f, u)
		case "file":
			return u.Path, func() {}, nil
		}
	}
	return f.URI, func() {}, nil
}

func (p *Processor) download(ctx context.Context, f File, u *url.URL) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return "", nil, err
	}
	for k, v := range f.AuthHeaders {
		req.Header.Set(k, v)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("download %s: %w", f.URI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("download %s: status %d", f.URI, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "recall-ingest-*")
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("download %s: %w", f.URI, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func baseName(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(uri)
}

func joinPages(res *extract.Result) string {
	var parts []string
	for _, pg := range res.Pages {
		if pg.Text != "" {
			parts = append(parts, pg.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

