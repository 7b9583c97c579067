// Package lsp serves extern crate diagnostics over the Language Server
// Protocol and offers cargo add quick fixes.
package lsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/crateguard/crateguard/internal/cargo"
	"github.com/crateguard/crateguard/internal/checker"
	"github.com/crateguard/crateguard/internal/config"
	"github.com/crateguard/crateguard/internal/manifest"
	"github.com/crateguard/crateguard/internal/rustsrc"
	"github.com/crateguard/crateguard/pkg/version"
)

// serverName identifies this server to clients.
const serverName = "crateguard"

// diagnosticSource marks diagnostics produced by this server.
const diagnosticSource = "crateguard"

// CommandAddDependency is the workspace command backing the quick fixes.
// Arguments: [crate string, isDev bool, documentURI string].
const CommandAddDependency = "crateguard.addDependency"

// addFunc runs the dependency-add tool. Swappable in tests.
type addFunc func(ctx context.Context, crate string, dev bool) error

// Server checks open Rust documents for extern crate references missing
// from Cargo.toml and publishes them as diagnostics.
type Server struct {
	store   *DocumentStore
	cache   *manifest.Cache
	cfg     *config.Config
	logger  *slog.Logger
	handler protocol.Handler

	mu      sync.Mutex
	root    string
	notify  glsp.NotifyFunc
	runAdd  addFunc
	closers []func() error
}

// NewServer creates a server with default handlers.
func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:  NewDocumentStore(),
		cache:  manifest.NewCache(),
		cfg:    cfg,
		logger: logger,
	}

	srv.handler = protocol.Handler{
		Initialize:              srv.initialize,
		Initialized:             srv.initialized,
		Shutdown:                srv.shutdown,
		SetTrace:                srv.setTrace,
		TextDocumentDidOpen:     srv.didOpen,
		TextDocumentDidChange:   srv.didChange,
		TextDocumentDidSave:     srv.didSave,
		TextDocumentDidClose:    srv.didClose,
		TextDocumentCodeAction:  srv.codeAction,
		WorkspaceExecuteCommand: srv.executeCommand,
	}

	return srv
}

// Run starts the server on stdio and blocks until the client disconnects.
func (srv *Server) Run() error {
	lspServer := server.NewServer(&srv.handler, serverName, false)

	err := lspServer.RunStdio()
	if err != nil {
		return fmt.Errorf("lsp server: %w", err)
	}

	return nil
}

func (srv *Server) initialize(_ *glsp.Context, params *protocol.InitializeParams) (any, error) {
	root := ""

	switch {
	case params.RootURI != nil:
		root = uriToPath(*params.RootURI)
	case params.RootPath != nil:
		root = *params.RootPath
	case len(params.WorkspaceFolders) > 0:
		root = uriToPath(params.WorkspaceFolders[0].URI)
	}

	srv.mu.Lock()
	srv.root = root
	if srv.runAdd == nil {
		srv.runAdd = cargo.NewRunner(srv.cfg.Cargo.Command, root).Add
	}
	srv.mu.Unlock()

	capabilities := srv.handler.CreateServerCapabilities()
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{CommandAddDependency},
	}

	// Whole-document sync: every didChange carries the full text, so the
	// stored copy is always current when a textless didSave arrives.
	if syncOptions, ok := capabilities.TextDocumentSync.(*protocol.TextDocumentSyncOptions); ok {
		syncKind := protocol.TextDocumentSyncKindFull
		syncOptions.Change = &syncKind
	}

	serverVersion := version.Version

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &serverVersion,
		},
	}, nil
}

func (srv *Server) initialized(ctx *glsp.Context, _ *protocol.InitializedParams) error {
	srv.mu.Lock()
	srv.notify = ctx.Notify
	srv.mu.Unlock()

	if srv.cfg.LSP.WatchManifest {
		err := srv.watchManifest()
		if err != nil {
			srv.logger.Warn("manifest watcher not started", "error", err)
		}
	}

	return nil
}

func (srv *Server) shutdown(_ *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)

	srv.mu.Lock()
	closers := srv.closers
	srv.closers = nil
	srv.mu.Unlock()

	for _, closeFn := range closers {
		err := closeFn()
		if err != nil {
			srv.logger.Warn("shutdown cleanup", "error", err)
		}
	}

	return nil
}

func (srv *Server) setTrace(_ *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)

	return nil
}

func (srv *Server) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI

	if !srv.store.Open(uri, params.TextDocument.LanguageID, params.TextDocument.Text) {
		return nil
	}

	srv.checkAndPublish(ctx.Notify, uri)

	return nil
}

func (srv *Server) didChange(_ *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	text, open := srv.store.Get(uri)
	if !open {
		return nil
	}

	// Keep the stored text current so the save-time check sees the
	// latest content; checking itself waits for open and save events.
	// The decoder hands over whole-document events under the advertised
	// full sync kind; range events are applied for clients that send
	// incremental changes anyway.
	for _, contentChange := range params.ContentChanges {
		switch change := contentChange.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			text = change.Text
		case protocol.TextDocumentContentChangeEvent:
			text = applyChange(text, change)
		}
	}

	srv.store.Set(uri, text)

	return nil
}

func (srv *Server) didSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	uri := params.TextDocument.URI

	if isManifest(uri) {
		// The mtime comparison in the cache picks up the new content;
		// every open document gets a fresh verdict.
		srv.recheckAll(ctx.Notify)

		return nil
	}

	if _, open := srv.store.Get(uri); !open {
		return nil
	}

	if params.Text != nil {
		srv.store.Set(uri, *params.Text)
	}

	srv.checkAndPublish(ctx.Notify, uri)

	return nil
}

func (srv *Server) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	if _, open := srv.store.Get(uri); !open {
		return nil
	}

	srv.store.Delete(uri)
	publishDiagnostics(ctx.Notify, uri, nil)

	return nil
}

func (srv *Server) codeAction(_ *glsp.Context, params *protocol.CodeActionParams) (any, error) {
	var actions []protocol.CodeAction

	for _, diag := range params.Context.Diagnostics {
		if diag.Source == nil || *diag.Source != diagnosticSource {
			continue
		}

		crate, ok := diag.Data.(string)
		if !ok || crate == "" {
			continue
		}

		actions = append(actions,
			srv.addAction(diag, crate, false, string(params.TextDocument.URI)),
			srv.addAction(diag, crate, true, string(params.TextDocument.URI)),
		)
	}

	return actions, nil
}

func (srv *Server) addAction(diag protocol.Diagnostic, crate string, dev bool, uri string) protocol.CodeAction {
	kind := protocol.CodeActionKindQuickFix

	table := "dependencies"
	if dev {
		table = "dev-dependencies"
	}

	return protocol.CodeAction{
		Title:       fmt.Sprintf("Add %s to [%s]", crate, table),
		Kind:        &kind,
		Diagnostics: []protocol.Diagnostic{diag},
		Command: &protocol.Command{
			Title:     fmt.Sprintf("cargo add %s", crate),
			Command:   CommandAddDependency,
			Arguments: []any{crate, dev, uri},
		},
	}
}

func (srv *Server) executeCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	if params.Command != CommandAddDependency {
		return nil, fmt.Errorf("unknown command %q", params.Command)
	}

	crate, dev, uri, err := parseAddArguments(params.Arguments)
	if err != nil {
		return nil, err
	}

	srv.mu.Lock()
	runAdd := srv.runAdd
	srv.mu.Unlock()

	if runAdd == nil {
		return nil, errors.New("server not initialized")
	}

	// The add runs off the handler goroutine; its completion callback
	// refreshes diagnostics. In-flight adds cannot be cancelled.
	notify := ctx.Notify
	go func() {
		addErr := runAdd(context.Background(), crate, dev)
		if addErr != nil {
			showError(notify, addMessage(crate, addErr))

			return
		}

		srv.cache.Invalidate()
		srv.checkAndPublish(notify, uri)
	}()

	return nil, nil
}

// parseAddArguments unpacks the [crate, isDev, uri] argument list of the
// add-dependency command.
func parseAddArguments(args []any) (crate string, dev bool, uri string, err error) {
	if len(args) != 3 {
		return "", false, "", fmt.Errorf("expected 3 arguments, got %d", len(args))
	}

	crate, crateOK := args[0].(string)
	dev, devOK := args[1].(bool)
	uri, uriOK := args[2].(string)

	if !crateOK || !devOK || !uriOK || crate == "" {
		return "", false, "", errors.New("malformed addDependency arguments")
	}

	return crate, dev, uri, nil
}

// addMessage maps add-runner failures to user-facing notification text.
func addMessage(crate string, err error) string {
	switch {
	case errors.Is(err, cargo.ErrNotInstalled):
		return "cargo is not installed"
	case errors.Is(err, cargo.ErrAddUnsupported):
		return "cargo add is not available; install cargo-edit"
	default:
		return fmt.Sprintf("adding %s failed: %v", crate, err)
	}
}

// checkAndPublish runs the scan pipeline over the stored document and
// publishes a full replacement diagnostic set. A missing manifest skips the
// check silently; a manifest parse failure leaves previously published
// diagnostics untouched.
func (srv *Server) checkAndPublish(notify glsp.NotifyFunc, uri string) {
	text, ok := srv.store.Get(uri)
	if !ok {
		return
	}

	path := uriToPath(uri)

	manifestPath, err := manifest.Locate(filepath.Dir(path), srv.workspaceRoot(path))
	if err != nil {
		if !errors.Is(err, manifest.ErrNotFound) {
			srv.logger.Warn("manifest lookup failed", "uri", uri, "error", err)
		}

		return
	}

	parsed, err := srv.cache.Resolve(manifestPath)
	if err != nil {
		srv.logger.Warn("manifest unreadable, keeping previous diagnostics", "path", manifestPath, "error", err)

		return
	}

	refs := rustsrc.ScanExternCrates(rustsrc.MaskComments(text))
	diags := checker.Check(text, refs, parsed, checker.Options{
		ExtraBuiltins: srv.cfg.Builtins.Extra,
	})

	publishDiagnostics(notify, uri, toProtocol(text, diags))
}

// recheckAll re-runs the pipeline for every open document.
func (srv *Server) recheckAll(notify glsp.NotifyFunc) {
	for _, uri := range srv.store.URIs() {
		srv.checkAndPublish(notify, uri)
	}
}

// workspaceRoot bounds the upward manifest search. Without a root from the
// client the walk may continue to the filesystem root.
func (srv *Server) workspaceRoot(path string) string {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.root != "" {
		return srv.root
	}

	return filepath.VolumeName(path) + string(filepath.Separator)
}

// watchManifest watches the workspace Cargo.toml so edits made outside the
// editor, including a completed cargo add, refresh diagnostics.
func (srv *Server) watchManifest() error {
	srv.mu.Lock()
	root := srv.root
	notify := srv.notify
	srv.mu.Unlock()

	if root == "" || notify == nil {
		return errors.New("no workspace root")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}

	err = watcher.Add(root)
	if err != nil {
		_ = watcher.Close()

		return fmt.Errorf("watch %s: %w", root, err)
	}

	srv.mu.Lock()
	srv.closers = append(srv.closers, watcher.Close)
	srv.mu.Unlock()

	go srv.watchLoop(watcher, notify)

	return nil
}

func (srv *Server) watchLoop(watcher *fsnotify.Watcher, notify glsp.NotifyFunc) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != manifest.FileName {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			srv.cache.Invalidate()
			srv.recheckAll(notify)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			srv.logger.Warn("manifest watcher", "error", err)
		}
	}
}

// toProtocol converts checker diagnostics for text into LSP diagnostics.
// The unsatisfied crate name rides along in Data for the code action
// handler.
func toProtocol(text string, diags []checker.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))

	severity := protocol.DiagnosticSeverityError
	source := diagnosticSource

	for _, diag := range diags {
		out = append(out, protocol.Diagnostic{
			Range:    rangeFor(text, diag.Start, diag.End),
			Severity: &severity,
			Source:   &source,
			Message:  diag.Message,
			Data:     diag.Crate,
		})
	}

	return out
}

func publishDiagnostics(notify glsp.NotifyFunc, uri string, diags []protocol.Diagnostic) {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}

	notify("textDocument/publishDiagnostics", &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func showError(notify glsp.NotifyFunc, message string) {
	notify("window/showMessage", &protocol.ShowMessageParams{
		Type:    protocol.MessageTypeError,
		Message: message,
	})
}
