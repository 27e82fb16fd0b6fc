package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/dshills/plughost/internal/plugin"
)

const greeterXML = `<plugin key="com.acme.greeter" name="Greeter">
	<plugin-info><version>1.2</version></plugin-info>
	<component key="hello" class="com.acme.Hello"/>
	<component key="bye" class="com.acme.Bye"/>
</plugin>`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKinds(t *testing.T) *plugin.Kinds {
	t.Helper()
	k := plugin.NewKinds(nil, discardLogger())
	if err := k.Register(&plugin.Kind{Name: "component"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return k
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip Create(%s) error = %v", name, err)
		}
		if _, err := f.Write([]byte(body)); err != nil {
			t.Fatalf("zip Write(%s) error = %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close() error = %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	return path
}

func testFactories(t *testing.T) []ArtifactFactory {
	t.Helper()
	return []ArtifactFactory{
		NewArchiveFactory("", t.TempDir(), nil, discardLogger()),
		NewXMLFactory(nil, discardLogger()),
	}
}

func TestParserBuildsPlugin(t *testing.T) {
	p := NewParser(testKinds(t), discardLogger()).Parse("greeter.xml", []byte(greeterXML))

	if p.IsUnloadable() {
		t.Fatalf("plugin unloadable: %s", p.ErrorText())
	}
	if p.Key() != "com.acme.greeter" || p.Name() != "Greeter" || p.Version() != "1.2" {
		t.Errorf("identity = %q %q %q", p.Key(), p.Name(), p.Version())
	}
	mods := p.Modules()
	if len(mods) != 2 || mods[0].Key() != "hello" || mods[1].Key() != "bye" {
		t.Fatalf("Modules() = %v", mods)
	}
	if mods[0].CompleteKey() != "com.acme.greeter:hello" {
		t.Errorf("CompleteKey() = %q", mods[0].CompleteKey())
	}
}

func TestParserUnloadableModules(t *testing.T) {
	xml := `<plugin key="k">
		<component key="good" class="com.acme.Good"/>
		<mystery key="odd"/>
		<component class="com.acme.NoKey"/>
	</plugin>`
	p := NewParser(testKinds(t), discardLogger()).Parse("k.xml", []byte(xml))

	if p.IsUnloadable() {
		t.Fatalf("module failures must not make the plugin unloadable: %s", p.ErrorText())
	}
	mods := p.Modules()
	if len(mods) != 3 {
		t.Fatalf("Modules() = %d, want 3", len(mods))
	}
	if mods[0].IsUnloadable() {
		t.Error("good module marked unloadable")
	}
	odd, ok := p.Module("odd")
	if !ok || !odd.IsUnloadable() || !strings.Contains(odd.ErrorText(), "mystery") {
		t.Errorf("unknown kind module = %v", odd)
	}
	if odd.CompleteKey() != "k:odd" {
		t.Errorf("unloadable CompleteKey() = %q", odd.CompleteKey())
	}
	if !mods[2].IsUnloadable() {
		t.Error("module without key should be unloadable")
	}
}

func TestParserUnloadablePlugins(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantKey     string
		wantName    string
		wantVersion string
	}{
		{"duplicate module key", `<plugin key="dup" name="Dup">
			<component key="a" class="x.A"/>
			<component key="a" class="x.B"/>
		</plugin>`, "dup", "Dup", ""},
		{"malformed xml", `<plugin key="bad"><component`, "acme-good-2.0.jar", "acme-good-2.0.jar", ""},
		{"missing key", `<plugin name="nameless"/>`, "acme-good-2.0.jar", "acme-good-2.0.jar", ""},
		{"key with colon", `<plugin key="a:b"/>`, "acme-good-2.0.jar", "acme-good-2.0.jar", ""},
		{"bad plugins version", `<plugin key="acme.good" name="Good" plugins-version="two">
			<plugin-info><version>2.0</version></plugin-info>
			<component key="a" class="x.A"/>
		</plugin>`, "acme.good", "Good", "2.0"},
		{"bad application version", `<plugin key="acme.good" name="Good">
			<plugin-info><version>2.0</version><application-version min="abc"/></plugin-info>
		</plugin>`, "acme.good", "Good", "2.0"},
		{"dependency without key", `<plugin key="acme.good" name="Good">
			<plugin-info><version>2.0</version><dependencies><dependency/></dependencies></plugin-info>
		</plugin>`, "acme.good", "Good", "2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(testKinds(t), discardLogger()).Parse("/deploy/acme-good-2.0.jar", []byte(tt.data))
			if !p.IsUnloadable() {
				t.Fatal("expected unloadable plugin")
			}
			if p.Key() != tt.wantKey {
				t.Errorf("Key() = %q, want %q", p.Key(), tt.wantKey)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
			if p.Version() != tt.wantVersion {
				t.Errorf("Version() = %q, want %q", p.Version(), tt.wantVersion)
			}
			if p.ErrorText() == "" {
				t.Error("ErrorText() is empty")
			}
			if len(p.Modules()) != 0 {
				t.Errorf("Modules() = %d, want 0", len(p.Modules()))
			}
		})
	}
}

func TestXMLFactory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "greeter.xml", []byte(greeterXML))
	f := NewXMLFactory(nil, discardLogger())

	if !f.CanCreate(path) {
		t.Fatal("CanCreate(xml) = false")
	}
	if f.CanCreate(filepath.Join(dir, "x.jar")) {
		t.Error("CanCreate(jar) = true")
	}

	p := f.Create(path, NewParser(testKinds(t), discardLogger()))
	if p.IsUnloadable() {
		t.Fatalf("Create() unloadable: %s", p.ErrorText())
	}
	if p.Artifact() != path {
		t.Errorf("Artifact() = %q, want %q", p.Artifact(), path)
	}
	if c := p.Capabilities(); !c.Uninstallable || !c.Deletable || !c.Dynamic {
		t.Errorf("Capabilities() = %+v", c)
	}
}

func TestArchiveFactory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	jar := writeFile(t, dir, "greeter.jar", buildZip(t, map[string]string{
		"plugin.xml":           greeterXML,
		"com/acme/Hello.class": "hello bytes",
	}))
	noDescriptor := writeFile(t, dir, "lib.jar", buildZip(t, map[string]string{
		"com/acme/Lib.class": "lib",
	}))

	f := NewArchiveFactory("", t.TempDir(), nil, discardLogger())
	if !f.CanCreate(jar) {
		t.Fatal("CanCreate(jar with descriptor) = false")
	}
	if f.CanCreate(noDescriptor) {
		t.Error("CanCreate(jar without descriptor) = true")
	}

	p := f.Create(jar, NewParser(testKinds(t), discardLogger()))
	if p.IsUnloadable() {
		t.Fatalf("Create() unloadable: %s", p.ErrorText())
	}
	if _, err := p.ClassLoader().LoadClass("com.acme.Hello"); err != nil {
		t.Errorf("LoadClass() through plugin loader error = %v", err)
	}

	hello, _ := p.Module("hello")
	if err := hello.Enabled(ctx); err != nil {
		t.Errorf("Enabled() error = %v", err)
	}
	bye, _ := p.Module("bye")
	if err := bye.Enabled(ctx); err == nil {
		t.Error("Enabled() for a class missing from the archive should fail")
	}

	if err := p.Install(ctx); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := p.Uninstall(ctx); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if _, err := p.ClassLoader().LoadClass("com.acme.Hello"); err == nil {
		t.Error("LoadClass() after Uninstall() should fail on the closed loader")
	}
}

func TestArchiveFactoryCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.jar", []byte("not a zip"))
	f := NewArchiveFactory("", t.TempDir(), nil, discardLogger())

	if f.CanCreate(path) {
		t.Error("CanCreate(corrupt) = true")
	}
	p := f.Create(path, NewParser(testKinds(t), discardLogger()))
	if !p.IsUnloadable() || p.Key() != "broken.jar" {
		t.Errorf("Create(corrupt) = %v unloadable=%v", p.Key(), p.IsUnloadable())
	}
}

func TestClassPathLoader(t *testing.T) {
	fsys := fstest.MapFS{
		"b/plugin.xml":      {Data: []byte(`<plugin key="b"><component key="m" class="com.acme.B"/></plugin>`)},
		"a/plugin.xml":      {Data: []byte(`<plugin key="a"/>`)},
		"a/other.xml":       {Data: []byte(`<plugin key="ignored"/>`)},
		"com/acme/B.class":  {Data: []byte("b")},
		"broken/plugin.xml": {Data: []byte(`<plugin`)},
	}
	l := NewClassPathLoader(fsys, nil, WithLogger(discardLogger()))

	plugins, err := l.LoadAll(context.Background(), testKinds(t))
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	var keys []string
	for _, p := range plugins {
		keys = append(keys, p.Key())
	}
	want := []string{"a", "b", "plugin.xml"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("LoadAll() keys = %v, want %v", keys, want)
	}
	if !plugins[2].IsUnloadable() {
		t.Error("broken descriptor should be unloadable")
	}
	if plugins[0].Capabilities().Uninstallable {
		t.Error("bundled plugins must not be uninstallable")
	}

	m, _ := plugins[1].Module("m")
	if err := m.Enabled(context.Background()); err != nil {
		t.Errorf("Enabled() via host loader error = %v", err)
	}
}

func TestSingleLoader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "greeter.xml", []byte(greeterXML))
	plugins, err := NewSingleLoader(path, testFactories(t)).LoadAll(context.Background(), testKinds(t))
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(plugins) != 1 || plugins[0].Key() != "com.acme.greeter" {
		t.Errorf("LoadAll() = %v", plugins)
	}
}

func TestDirectoryLoader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kinds := testKinds(t)
	writeFile(t, dir, "b.xml", []byte(`<plugin key="b"/>`))
	writeFile(t, dir, "a.jar", buildZip(t, map[string]string{"plugin.xml": `<plugin key="a"/>`}))
	writeFile(t, dir, "notes.txt", []byte("hello"))

	l := NewDirectoryLoader(dir, testFactories(t), WithLogger(discardLogger()))
	plugins, err := l.LoadAll(ctx, kinds)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(plugins) != 3 {
		t.Fatalf("LoadAll() = %d plugins, want 3", len(plugins))
	}
	if plugins[0].Key() != "a" || plugins[1].Key() != "b" {
		t.Errorf("LoadAll() order = %s, %s", plugins[0].Key(), plugins[1].Key())
	}
	if !plugins[2].IsUnloadable() || plugins[2].Key() != "notes.txt" {
		t.Errorf("unhandled artifact = %s unloadable=%v", plugins[2].Key(), plugins[2].IsUnloadable())
	}

	again, err := l.LoadNew(ctx, kinds)
	if err != nil || len(again) != 0 {
		t.Fatalf("LoadNew() without changes = %v, %v", again, err)
	}

	writeFile(t, dir, "c.xml", []byte(`<plugin key="c"/>`))
	added, err := l.LoadNew(ctx, kinds)
	if err != nil {
		t.Fatalf("LoadNew() error = %v", err)
	}
	if len(added) != 1 || added[0].Key() != "c" {
		t.Fatalf("LoadNew() = %v, want [c]", added)
	}

	if !l.SupportsRemoval() || !l.Owns(added[0]) {
		t.Fatal("loader should own and be able to remove c")
	}
	if err := l.Remove(added[0]); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "c.xml")); !os.IsNotExist(err) {
		t.Errorf("artifact still exists after Remove(): %v", err)
	}
	if err := l.Remove(added[0]); !errors.Is(err, ErrUnknownArtifact) {
		t.Errorf("second Remove() error = %v, want ErrUnknownArtifact", err)
	}

	writeFile(t, dir, "c.xml", []byte(`<plugin key="c"/>`))
	redeployed, _ := l.LoadNew(ctx, kinds)
	if len(redeployed) != 1 {
		t.Errorf("LoadNew() after redeploy = %v", redeployed)
	}
}

func TestDirectoryLoaderRemoveForeignPlugin(t *testing.T) {
	l := NewDirectoryLoader(t.TempDir(), testFactories(t), WithLogger(discardLogger()))
	p := plugin.New("x", plugin.WithArtifact("/elsewhere/x.xml"))
	if err := l.Remove(p); !errors.Is(err, ErrUnknownArtifact) {
		t.Errorf("Remove() error = %v, want ErrUnknownArtifact", err)
	}
}

func TestDirectoryLoaderCanceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.xml", []byte(`<plugin key="a"/>`))
	l := NewDirectoryLoader(dir, testFactories(t), WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.LoadNew(ctx, testKinds(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("LoadNew() error = %v, want context.Canceled", err)
	}

	plugins, err := l.LoadNew(context.Background(), testKinds(t))
	if err != nil || len(plugins) != 1 {
		t.Errorf("LoadNew() after cancel = %v, %v; want the skipped artifact", plugins, err)
	}
}
