package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mbox-archive/model"
	"github.com/dhcgn/mbox-archive/runner"
)

const (
	DefaultFolder    = "INBOX"
	DefaultBatchSize = 100

	junkFlag imapv2.Flag = "$Junk"
)

type SpamMarker interface {
	IsSpam(raw []byte) bool
}

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	BatchSize          int
	Marker             SpamMarker
}

// Fetcher streams every message of one IMAP folder without changing its
// flags. Messages flagged $Junk by the server count as spam.
type Fetcher struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger
}

func NewFetcher(opts Options, logger *slog.Logger) (*Fetcher, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Folder == "" {
		opts.Folder = DefaultFolder
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Fetcher{opts: opts, logger: logger}, nil
}

// NewProducer registers a fetcher as the input stage of r.
func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Fetcher, error) {
	fetcher, err := NewFetcher(opts, logger)
	if err != nil {
		return nil, err
	}
	fetcher.runner = r
	r.AddStage("imap", fetcher.run)
	return fetcher, nil
}

// Source identifies the folder as imap://user@host:port/folder.
func (f *Fetcher) Source() string {
	u := url.URL{
		Scheme: "imap",
		User:   url.User(f.opts.Username),
		Host:   net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port)),
		Path:   "/" + f.opts.Folder,
	}
	return u.String()
}

func (f *Fetcher) run(ctx context.Context) error {
	defer f.runner.CloseMailbox()
	return f.Stream(ctx, f.runner.MailboxWriter())
}

func (f *Fetcher) Stream(ctx context.Context, out chan<- model.Envelope) error {
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	selected, err := client.Select(f.opts.Folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", f.opts.Folder, err)
	}

	search, err := client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return fmt.Errorf("search %s: %w", f.opts.Folder, err)
	}
	uids := search.AllUIDs()
	if f.logger != nil {
		f.logger.Info("imap folder selected", "folder", f.opts.Folder, "messages", selected.NumMessages, "uids", len(uids))
	}

	source := f.Source()
	idx := 0
	for _, batch := range batches(uids, f.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := f.fetchBatch(ctx, client, batch, source, idx, out)
		idx += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, client *imapclient.Client, batch []imapv2.UID, source string, start int, out chan<- model.Envelope) (int, error) {
	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imapv2.UIDSetNum(batch...), &imapv2.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imapv2.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	n := 0
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			return n, fmt.Errorf("collect message: %w", err)
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			return n, fmt.Errorf("message uid %d has no body", buf.UID)
		}

		env := model.Envelope{Message: model.Message{
			Source: source,
			Index:  start + n,
			Spam:   isJunk(buf.Flags) || (f.opts.Marker != nil && f.opts.Marker.IsSpam(raw)),
			Raw:    raw,
		}}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case out <- env:
		}
		n++

		if f.logger != nil {
			f.logger.Debug("imap message fetched", "uid", buf.UID, "size", len(raw))
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return n, fmt.Errorf("fetch messages: %w", err)
	}
	return n, nil
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "folder", f.opts.Folder, "tls", f.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && f.logger != nil {
				f.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil && f.logger != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func isJunk(flags []imapv2.Flag) bool {
	for _, flag := range flags {
		if strings.EqualFold(string(flag), string(junkFlag)) {
			return true
		}
	}
	return false
}

func batches(uids []imapv2.UID, size int) [][]imapv2.UID {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]imapv2.UID
	for len(uids) > 0 {
		n := min(size, len(uids))
		out = append(out, uids[:n])
		uids = uids[n:]
	}
	return out
}
