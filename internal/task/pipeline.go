package task

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"papersnap/internal/capture"
	"papersnap/internal/inline"
	"papersnap/internal/reference"
)

// Reporter receives a run's intermediate results.
type Reporter interface {
	Progress(stage Stage)
	Title(title string)
	Resolved(url string)
}

// Job is one run of a task. Token is owned by the run.
type Job struct {
	TaskID        string
	Reference     string
	CollectionKey string
	Token         *CancelToken
	Report        Reporter
}

type Result struct {
	Title    string
	FilePath string
	ItemKey  string
}

// Runner executes a job to completion.
type Runner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

type Inliner interface {
	Inline(ctx context.Context, doc *capture.Document) (inline.Stats, error)
}

type ArtifactWriter interface {
	Write(doc *capture.Document, title string) (string, error)
}

type Registrar interface {
	Register(ctx context.Context, title, url, collectionKey, artifactPath string) (string, error)
}

// Pipeline runs the seven capture stages in order.
type Pipeline struct {
	launcher  capture.Launcher
	inliner   Inliner
	writer    ArtifactWriter
	registrar Registrar
	now       func() time.Time
}

func NewPipeline(launcher capture.Launcher, inliner Inliner, writer ArtifactWriter, registrar Registrar) *Pipeline {
	return &Pipeline{launcher: launcher, inliner: inliner, writer: writer, registrar: registrar, now: time.Now}
}

// Run checks the job's token before every stage. Blocking calls already in
// flight are not interrupted by it; ctx only ends them on shutdown.
func (p *Pipeline) Run(ctx context.Context, job Job) (Result, error) { //nolint:cyclop
	logger := log.With().Str("task_id", job.TaskID).Logger()
	var res Result

	// 1
	if err := job.Token.Check(); err != nil {
		return res, err
	}
	resolved, err := reference.Normalize(job.Reference, p.now())
	if err != nil {
		return res, err //nolint:wrapcheck
	}
	job.Report.Resolved(resolved.URL)
	job.Report.Progress(StageNormalized)
	logger.Info().Str("url", resolved.URL).Str("variant", string(resolved.Variant)).Msg("reference resolved")

	// 2
	if err := job.Token.Check(); err != nil {
		return res, err
	}
	session, err := p.launcher.Open(ctx)
	if err != nil {
		return res, fmt.Errorf("open browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn().Err(err).Msg("close browser session")
		}
	}()
	job.Report.Progress(StageSessionOpened)

	// 3
	if err := job.Token.Check(); err != nil {
		return res, err
	}
	page, err := session.Navigate(ctx, resolved.URL)
	if err != nil {
		return res, err //nolint:wrapcheck
	}
	res.Title = page.Title
	job.Report.Title(page.Title)
	job.Report.Progress(StageNavigated)

	// 4
	if err := job.Token.Check(); err != nil {
		return res, err
	}
	if err := session.WaitTranslated(ctx); err != nil {
		return res, err //nolint:wrapcheck
	}
	job.Report.Progress(StageTranslated)

	// 5
	if err := job.Token.Check(); err != nil {
		return res, err
	}
	html, err := session.Content(ctx)
	if err != nil {
		return res, err //nolint:wrapcheck
	}
	finalURL := page.URL
	if finalURL == "" {
		finalURL = resolved.URL
	}
	doc, err := capture.Parse(html, finalURL, page.Title)
	if err != nil {
		return res, err //nolint:wrapcheck
	}
	job.Report.Progress(StageParsed)

	// 6
	if err := job.Token.Check(); err != nil {
		return res, err
	}
	stats, err := p.inliner.Inline(ctx, doc)
	if err != nil {
		return res, err //nolint:wrapcheck
	}
	filePath, err := p.writer.Write(doc, page.Title)
	if err != nil {
		return res, err //nolint:wrapcheck
	}
	res.FilePath = filePath
	job.Report.Progress(StageInlined)
	logger.Info().Str("path", filePath).Int("resources", stats.Unique).Msg("snapshot written")

	// 7
	if err := job.Token.Check(); err != nil {
		return res, err
	}
	itemKey, err := p.registrar.Register(ctx, page.Title, finalURL, job.CollectionKey, filePath)
	if err != nil {
		return res, err //nolint:wrapcheck
	}
	res.ItemKey = itemKey
	job.Report.Progress(StageRegistered)
	return res, nil
}
