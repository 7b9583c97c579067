package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/crateguard/crateguard/internal/cargo"
	"github.com/crateguard/crateguard/internal/config"
	"github.com/crateguard/crateguard/internal/manifest"
)

// notifyRecorder captures notifications sent by the server.
type notifyRecorder struct {
	mu     sync.Mutex
	events []recordedNotification
}

type recordedNotification struct {
	method string
	params any
}

func (r *notifyRecorder) notify(method string, params any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, recordedNotification{method: method, params: params})
}

func (r *notifyRecorder) published() []*protocol.PublishDiagnosticsParams {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*protocol.PublishDiagnosticsParams

	for _, ev := range r.events {
		if ev.method == "textDocument/publishDiagnostics" {
			out = append(out, ev.params.(*protocol.PublishDiagnosticsParams))
		}
	}

	return out
}

func (r *notifyRecorder) shownErrors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string

	for _, ev := range r.events {
		if ev.method == "window/showMessage" {
			out = append(out, ev.params.(*protocol.ShowMessageParams).Message)
		}
	}

	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Cargo: config.CargoConfig{Command: "cargo"},
		Scan:  config.ScanConfig{Exclude: []string{"target"}},
	}
}

func testServer(root string) *Server {
	srv := NewServer(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.root = root

	return srv
}

// newWorkspace lays out a crate directory with the given Cargo.toml and
// returns its root.
func newWorkspace(t *testing.T, manifestContent string) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, manifest.FileName), []byte(manifestContent), 0o644))

	return root
}

func docURI(root string) string {
	return "file://" + filepath.Join(root, "src", "main.rs")
}

func TestCheckAndPublish_MissingDependency(t *testing.T) {
	t.Parallel()

	root := newWorkspace(t, "[package]\nname = \"demo\"\n[dependencies]\nserde = \"1.0\"\n")
	srv := testServer(root)

	uri := docURI(root)
	srv.store.Set(uri, "extern crate rand;\nextern crate serde;\n")

	rec := &notifyRecorder{}
	srv.checkAndPublish(rec.notify, uri)

	published := rec.published()
	require.Len(t, published, 1)
	require.Len(t, published[0].Diagnostics, 1)

	diag := published[0].Diagnostics[0]
	assert.Equal(t, "rand", diag.Data)
	assert.Equal(t, diagnosticSource, *diag.Source)
	assert.Equal(t, protocol.DiagnosticSeverityError, *diag.Severity)
	assert.Equal(t, protocol.UInteger(0), diag.Range.Start.Line)
}

func TestCheckAndPublish_CleanDocumentPublishesEmptySet(t *testing.T) {
	t.Parallel()

	root := newWorkspace(t, "[package]\nname = \"demo\"\n[dependencies]\nserde = \"1.0\"\n")
	srv := testServer(root)

	uri := docURI(root)
	srv.store.Set(uri, "extern crate serde;\n")

	rec := &notifyRecorder{}
	srv.checkAndPublish(rec.notify, uri)

	published := rec.published()
	require.Len(t, published, 1)
	assert.Empty(t, published[0].Diagnostics, "full replacement clears stale diagnostics")
}

func TestCheckAndPublish_NoManifestSkipsSilently(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	srv := testServer(root)

	uri := docURI(root)
	srv.store.Set(uri, "extern crate rand;\n")

	rec := &notifyRecorder{}
	srv.checkAndPublish(rec.notify, uri)

	assert.Empty(t, rec.published())
}

func TestCheckAndPublish_ParseErrorKeepsPreviousDiagnostics(t *testing.T) {
	t.Parallel()

	root := newWorkspace(t, "[package\nbroken")
	srv := testServer(root)

	uri := docURI(root)
	srv.store.Set(uri, "extern crate rand;\n")

	rec := &notifyRecorder{}
	srv.checkAndPublish(rec.notify, uri)

	assert.Empty(t, rec.published(), "nothing published on parse failure")
}

func TestDidSave_ManifestRechecksOpenDocuments(t *testing.T) {
	t.Parallel()

	root := newWorkspace(t, "[package]\nname = \"demo\"\n")
	srv := testServer(root)

	uri := docURI(root)
	srv.store.Set(uri, "extern crate rand;\n")

	rec := &notifyRecorder{}
	ctx := &glsp.Context{Notify: rec.notify}

	// First pass: rand is missing.
	srv.checkAndPublish(rec.notify, uri)
	require.Len(t, rec.published(), 1)
	require.Len(t, rec.published()[0].Diagnostics, 1)

	// The fix lands in Cargo.toml with a strictly newer mtime.
	manifestPath := filepath.Join(root, manifest.FileName)
	require.NoError(t, os.WriteFile(manifestPath, []byte("[package]\nname = \"demo\"\n[dependencies]\nrand = \"0.8\"\n"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(manifestPath, future, future))

	err := srv.didSave(ctx, &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file://" + manifestPath},
	})
	require.NoError(t, err)

	published := rec.published()
	require.Len(t, published, 2)
	assert.Empty(t, published[1].Diagnostics, "diagnostic disappears once the manifest declares rand")
}

func TestInitialize_AdvertisesFullSync(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())

	result, err := srv.initialize(nil, &protocol.InitializeParams{})
	require.NoError(t, err)

	initResult, ok := result.(protocol.InitializeResult)
	require.True(t, ok)

	syncOptions, ok := initResult.Capabilities.TextDocumentSync.(*protocol.TextDocumentSyncOptions)
	require.True(t, ok)
	require.NotNil(t, syncOptions.Change)
	assert.Equal(t, protocol.TextDocumentSyncKindFull, *syncOptions.Change)
}

func TestDidChange_DecodedNotificationUpdatesStoredText(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())
	uri := "file:///src/main.rs"
	require.True(t, srv.store.Open(uri, "rust", "fn main() {}\n"))

	// Decode the params the way the JSON-RPC layer does, so the change
	// events reach didChange as the concrete event types it switches on.
	payload := fmt.Sprintf(`{"textDocument":{"uri":%q,"version":2},"contentChanges":[{"text":"extern crate rand;\nfn main() {}\n"}]}`, uri)

	var params protocol.DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal([]byte(payload), &params))

	require.NoError(t, srv.didChange(nil, &params))

	got, _ := srv.store.Get(uri)
	assert.Equal(t, "extern crate rand;\nfn main() {}\n", got)
}

func TestDidChange_ThenSaveReflectsEditedContent(t *testing.T) {
	t.Parallel()

	root := newWorkspace(t, "[package]\nname = \"demo\"\n")
	srv := testServer(root)

	uri := docURI(root)
	require.True(t, srv.store.Open(uri, "rust", "fn main() {}\n"))

	payload := fmt.Sprintf(`{"textDocument":{"uri":%q,"version":2},"contentChanges":[{"text":"extern crate rand;\nfn main() {}\n"}]}`, uri)

	var params protocol.DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal([]byte(payload), &params))
	require.NoError(t, srv.didChange(nil, &params))

	rec := &notifyRecorder{}
	ctx := &glsp.Context{Notify: rec.notify}

	// The save notification carries no text; the check must run over the
	// content delivered through didChange.
	err := srv.didSave(ctx, &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)

	published := rec.published()
	require.Len(t, published, 1)
	require.Len(t, published[0].Diagnostics, 1)
	assert.Equal(t, "rand", published[0].Diagnostics[0].Data)
}

func TestDidChange_AppliesRangeChanges(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())
	uri := "file:///src/lib.rs"
	require.True(t, srv.store.Open(uri, "rust", "extern crate serde;\n"))

	err := srv.didChange(nil, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
		},
		ContentChanges: []any{
			protocol.TextDocumentContentChangeEvent{
				Range: &protocol.Range{
					Start: protocol.Position{Line: 0, Character: 13},
					End:   protocol.Position{Line: 0, Character: 18},
				},
				Text: "rand",
			},
		},
	})
	require.NoError(t, err)

	got, _ := srv.store.Get(uri)
	assert.Equal(t, "extern crate rand;\n", got)
}

func TestDidChange_IgnoresUntrackedDocuments(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())

	err := srv.didChange(nil, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///never/opened.rs"},
		},
		ContentChanges: []any{
			protocol.TextDocumentContentChangeEventWhole{Text: "extern crate rand;"},
		},
	})
	require.NoError(t, err)

	_, open := srv.store.Get("file:///never/opened.rs")
	assert.False(t, open)
}

func TestDidOpen_IgnoresNonRustDocuments(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())

	rec := &notifyRecorder{}
	ctx := &glsp.Context{Notify: rec.notify}

	err := srv.didOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        "file:///notes/README.md",
			LanguageID: "markdown",
			Text:       "extern crate rand;",
		},
	})
	require.NoError(t, err)

	_, open := srv.store.Get("file:///notes/README.md")
	assert.False(t, open)
	assert.Empty(t, rec.published())
}

func TestDidClose_ClearsDiagnostics(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())
	uri := "file:///src/main.rs"
	srv.store.Set(uri, "extern crate rand;")

	rec := &notifyRecorder{}
	ctx := &glsp.Context{Notify: rec.notify}

	err := srv.didClose(ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)

	_, open := srv.store.Get(uri)
	assert.False(t, open)

	published := rec.published()
	require.Len(t, published, 1)
	assert.Empty(t, published[0].Diagnostics)
}

func TestCodeAction_OffersBothFixes(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())

	source := diagnosticSource
	params := &protocol.CodeActionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///src/main.rs"},
		Context: protocol.CodeActionContext{
			Diagnostics: []protocol.Diagnostic{
				{Source: &source, Message: `"rand" is not listed in Cargo.toml`, Data: "rand"},
			},
		},
	}

	result, err := srv.codeAction(nil, params)
	require.NoError(t, err)

	actions, ok := result.([]protocol.CodeAction)
	require.True(t, ok)
	require.Len(t, actions, 2)

	assert.Equal(t, "Add rand to [dependencies]", actions[0].Title)
	assert.Equal(t, "Add rand to [dev-dependencies]", actions[1].Title)

	for i, dev := range []bool{false, true} {
		require.NotNil(t, actions[i].Command)
		assert.Equal(t, CommandAddDependency, actions[i].Command.Command)
		assert.Equal(t, []any{"rand", dev, "file:///src/main.rs"}, actions[i].Command.Arguments)
	}
}

func TestCodeAction_IgnoresForeignDiagnostics(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())

	other := "rust-analyzer"
	params := &protocol.CodeActionParams{
		Context: protocol.CodeActionContext{
			Diagnostics: []protocol.Diagnostic{
				{Source: &other, Message: "unused variable"},
				{Message: "no source at all"},
			},
		},
	}

	result, err := srv.codeAction(nil, params)
	require.NoError(t, err)

	actions, _ := result.([]protocol.CodeAction)
	assert.Empty(t, actions)
}

func TestExecuteCommand_SuccessRefreshesDiagnostics(t *testing.T) {
	t.Parallel()

	root := newWorkspace(t, "[package]\nname = \"demo\"\n")
	srv := testServer(root)

	uri := docURI(root)
	srv.store.Set(uri, "extern crate rand;\n")

	manifestPath := filepath.Join(root, manifest.FileName)

	srv.runAdd = func(_ context.Context, crate string, dev bool) error {
		assert.Equal(t, "rand", crate)
		assert.False(t, dev)

		// cargo rewrites the manifest on success.
		err := os.WriteFile(manifestPath, []byte("[package]\nname = \"demo\"\n[dependencies]\nrand = \"0.8\"\n"), 0o644)
		if err != nil {
			return err
		}
		future := time.Now().Add(2 * time.Second)

		return os.Chtimes(manifestPath, future, future)
	}

	rec := &notifyRecorder{}
	ctx := &glsp.Context{Notify: rec.notify}

	_, err := srv.executeCommand(ctx, &protocol.ExecuteCommandParams{
		Command:   CommandAddDependency,
		Arguments: []any{"rand", false, uri},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.published()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, rec.published()[0].Diagnostics)
	assert.Empty(t, rec.shownErrors())
}

func TestExecuteCommand_FailureShowsMessage(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())
	srv.runAdd = func(_ context.Context, _ string, _ bool) error {
		return cargo.ErrNotInstalled
	}

	rec := &notifyRecorder{}
	ctx := &glsp.Context{Notify: rec.notify}

	_, err := srv.executeCommand(ctx, &protocol.ExecuteCommandParams{
		Command:   CommandAddDependency,
		Arguments: []any{"rand", true, "file:///src/main.rs"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.shownErrors()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "cargo is not installed", rec.shownErrors()[0])
	assert.Empty(t, rec.published())
}

func TestExecuteCommand_RejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	srv := testServer(t.TempDir())

	_, err := srv.executeCommand(&glsp.Context{}, &protocol.ExecuteCommandParams{Command: "other.command"})
	assert.Error(t, err)
}

func TestParseAddArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []any
		wantErr bool
	}{
		{"valid", []any{"rand", false, "file:///a.rs"}, false},
		{"wrong arity", []any{"rand"}, true},
		{"empty crate", []any{"", false, "file:///a.rs"}, true},
		{"wrong types", []any{1, "yes", false}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			crate, dev, uri, err := parseAddArguments(tc.args)
			if tc.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "rand", crate)
			assert.False(t, dev)
			assert.Equal(t, "file:///a.rs", uri)
		})
	}
}

func TestAddMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cargo is not installed", addMessage("rand", cargo.ErrNotInstalled))
	assert.Contains(t, addMessage("rand", cargo.ErrAddUnsupported), "cargo-edit")
	assert.Contains(t, addMessage("rand", errors.New("boom")), "boom")
}

func TestIsRustDocument(t *testing.T) {
	t.Parallel()

	assert.True(t, isRustDocument("rust", "file:///src/main.rs"))
	assert.True(t, isRustDocument("", "file:///src/lib.rs"))
	assert.False(t, isRustDocument("markdown", "file:///README.md"))
}

func TestIsManifest(t *testing.T) {
	t.Parallel()

	assert.True(t, isManifest("file:///demo/Cargo.toml"))
	assert.False(t, isManifest("file:///demo/Cargo.lock"))
	assert.False(t, isManifest("file:///demo/src/main.rs"))
}
