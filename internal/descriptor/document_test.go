package descriptor

import (
	"errors"
	"strings"
	"testing"
)

const sampleDescriptor = `<?xml version="1.0" encoding="UTF-8"?>
<plugin key="com.acme.greeter" name="Greeter" i18n-name-key="greeter.name" pluginsVersion="2" system="true">
    <plugin-info>
        <description key="greeter.desc">Says hello</description>
        <version>1.2.3</version>
        <vendor name="Acme" url="https://acme.example"/>
        <application-version min="2.0" max="3.5"/>
        <java-version min="1.5"/>
        <param name="configure.url">/admin/greeter</param>
        <param name="mode" value="loud"/>
        <dependencies>
            <dependency key="com.acme.base"/>
            <dependency key="com.acme.extra" optional="true"/>
        </dependencies>
    </plugin-info>
    <resource type="download" name="logo.png" location="images/logo.png"/>
    <greeting key="hello" name="Hello" class="com.acme.Hello">
        <param name="text">hi</param>
    </greeting>
    <greeting key="bye" class="bean:byeBean"/>
</plugin>`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader(sampleDescriptor))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}

	if doc.Key != "com.acme.greeter" {
		t.Errorf("Key = %q, want com.acme.greeter", doc.Key)
	}
	if doc.Name != "Greeter" || doc.I18nNameKey != "greeter.name" {
		t.Errorf("Name = %q, I18nNameKey = %q", doc.Name, doc.I18nNameKey)
	}
	if doc.PluginsVersion != 2 {
		t.Errorf("PluginsVersion = %d, want 2", doc.PluginsVersion)
	}
	if !doc.System {
		t.Error("System = false, want true")
	}
	if !doc.EnabledByDefault {
		t.Error("EnabledByDefault = false, want true")
	}

	info := doc.Info
	if info.Version != "1.2.3" {
		t.Errorf("Info.Version = %q, want 1.2.3", info.Version)
	}
	if info.Description != "Says hello" || info.DescriptionKey != "greeter.desc" {
		t.Errorf("Info.Description = %q (%q)", info.Description, info.DescriptionKey)
	}
	if info.VendorName != "Acme" || info.VendorURL != "https://acme.example" {
		t.Errorf("Info vendor = %q %q", info.VendorName, info.VendorURL)
	}
	if info.MinVersion != 2.0 || info.MaxVersion != 3.5 {
		t.Errorf("Info application version = %v..%v", info.MinVersion, info.MaxVersion)
	}
	if info.MinRuntimeVersion != 1.5 {
		t.Errorf("Info.MinRuntimeVersion = %v, want 1.5", info.MinRuntimeVersion)
	}
	if v, _ := info.Params.Get("configure.url"); v != "/admin/greeter" {
		t.Errorf("param configure.url = %q", v)
	}
	if v, _ := info.Params.Get("mode"); v != "loud" {
		t.Errorf("param mode = %q", v)
	}
	if got := info.Params.Keys(); len(got) != 2 || got[0] != "configure.url" {
		t.Errorf("Params.Keys() = %v", got)
	}

	if len(info.Dependencies) != 2 {
		t.Fatalf("Dependencies = %v, want 2", info.Dependencies)
	}
	if info.Dependencies[0].Key != "com.acme.base" || info.Dependencies[0].Optional {
		t.Errorf("Dependencies[0] = %+v", info.Dependencies[0])
	}
	if !info.Dependencies[1].Optional {
		t.Errorf("Dependencies[1] = %+v, want optional", info.Dependencies[1])
	}

	if len(doc.Resources) != 1 || doc.Resources[0].Location != "images/logo.png" {
		t.Errorf("Resources = %+v", doc.Resources)
	}

	if len(doc.Modules) != 2 {
		t.Fatalf("Modules = %d, want 2", len(doc.Modules))
	}
	hello := doc.Modules[0]
	if hello.Name != "greeting" || hello.Attr("key") != "hello" || hello.Attr("class") != "com.acme.Hello" {
		t.Errorf("Modules[0] = %+v", hello)
	}
	if v, _ := ParseParams(hello).Get("text"); v != "hi" {
		t.Errorf("module param text = %q, want hi", v)
	}
}

func TestParseDocumentDefaults(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader(`<plugin key="k" state="disabled"/>`))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	if doc.PluginsVersion != 1 {
		t.Errorf("PluginsVersion = %d, want 1", doc.PluginsVersion)
	}
	if doc.EnabledByDefault {
		t.Error("state=disabled should not be enabled by default")
	}
	if doc.System {
		t.Error("System should default to false")
	}
}

func TestParseDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"missing key", `<plugin name="x"/>`, ErrMissingKey},
		{"colon in key", `<plugin key="a:b"/>`, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument(strings.NewReader(tt.doc))
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseDocument() error = %v, want %v", err, tt.want)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("ParseDocument() error = %T, want *ParseError", err)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for _, doc := range []string{"", "<plugin key='a'>", "<a/><b/>", `<plugin key="k" pluginsVersion="x"/>`} {
		_, err := ParseBytes("bad.xml", []byte(doc))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("ParseBytes(%q) error = %v, want *ParseError", doc, err)
			continue
		}
		if pe.Source != "bad.xml" {
			t.Errorf("ParseError.Source = %q, want bad.xml", pe.Source)
		}
	}
}

func TestParsePartialDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"plugins version", `<plugin key="acme.good" name="Good" plugins-version="two">
			<plugin-info><version>2.0</version></plugin-info>
			<component key="a"/>
		</plugin>`},
		{"application version", `<plugin key="acme.good" name="Good">
			<plugin-info><version>2.0</version><application-version min="abc"/></plugin-info>
			<component key="a"/>
		</plugin>`},
		{"dependency key", `<plugin key="acme.good" name="Good">
			<plugin-info><version>2.0</version><dependencies><dependency/></dependencies></plugin-info>
		</plugin>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseBytes("acme-good-2.0.jar", []byte(tt.doc))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("ParseBytes() error = %v, want *ParseError", err)
			}
			if doc == nil {
				t.Fatal("ParseBytes() returned no partial document")
			}
			if doc.Key != "acme.good" || doc.Name != "Good" || doc.Info.Version != "2.0" {
				t.Errorf("partial document = %q %q %q", doc.Key, doc.Name, doc.Info.Version)
			}
			if len(doc.Modules) != 0 {
				t.Errorf("Modules = %d, want 0", len(doc.Modules))
			}
		})
	}

	for _, bad := range []string{`<plugin name="x"/>`, `<plugin key="a:b"/>`, `<plugin key="a">`} {
		if doc, err := ParseBytes("bad.xml", []byte(bad)); err == nil || doc != nil {
			t.Errorf("ParseBytes(%q) = %v, %v; want nil document and error", bad, doc, err)
		}
	}
}
