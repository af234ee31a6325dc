package tts_test

import (
	"testing"

	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

func TestLookupVoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lang   string
		gender tts.Gender
		want   string
	}{
		{"es", tts.Female, "es-ES-ElviraNeural"},
		{"es-MX", tts.Male, "es-ES-AlvaroNeural"},
		{"ur", tts.Male, "ur-IN-SalmanNeural"},
		{"zh-Hans", tts.Female, "zh-CN-XiaoxiaoNeural"},
		{"", tts.Female, tts.DefaultVoice},
		{"xx", tts.Male, tts.DefaultVoice},
	}
	for _, tc := range tests {
		if got := tts.LookupVoice(tc.lang, tc.gender); got != tc.want {
			t.Errorf("LookupVoice(%q, %q) = %q, want %q", tc.lang, tc.gender, got, tc.want)
		}
	}
}

func TestVoiceTable_Coverage(t *testing.T) {
	t.Parallel()

	langs := []string{"en", "es", "fr", "de", "it", "ja", "ko", "pt", "ru", "zh", "hi", "ta", "te", "mr", "gu", "bn", "kn", "ml", "pa", "ur"}
	if len(tts.VoiceTable) != 20 || len(langs) != 20 {
		t.Errorf("VoiceTable has %d languages, want 20", len(tts.VoiceTable))
	}
	for _, l := range langs {
		pair, ok := tts.VoiceTable[l]
		if !ok || pair.Female == "" || pair.Male == "" {
			t.Errorf("VoiceTable[%q] = %+v", l, pair)
		}
	}
}

func TestEscapeXML(t *testing.T) {
	t.Parallel()

	got := tts.EscapeXML(`Tom & "Jerry" <b>'s</b>`)
	want := "Tom &amp; &quot;Jerry&quot; &lt;b&gt;&apos;s&lt;/b&gt;"
	if got != want {
		t.Errorf("EscapeXML = %q, want %q", got, want)
	}
}

func TestBuildSSML(t *testing.T) {
	t.Parallel()

	got := tts.BuildSSML("a < b", "de", "de-DE-KatjaNeural")
	want := `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="de-DE"><voice name="de-DE-KatjaNeural">a &lt; b</voice></speak>`
	if got != want {
		t.Errorf("BuildSSML =\n%s\nwant\n%s", got, want)
	}
	if lang := tts.SSMLLang("pt-BR"); lang != "pt-BR" {
		t.Errorf("SSMLLang(pt-BR) = %q", lang)
	}
}

func TestParseGender(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]tts.Gender{"": tts.Female, "Female": tts.Female, " male ": tts.Male} {
		got, err := tts.ParseGender(in)
		if err != nil || got != want {
			t.Errorf("ParseGender(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := tts.ParseGender("robot"); err == nil {
		t.Error("expected error for unknown gender")
	}
}
