package tts

import "github.com/MrWong99/babelcast/pkg/provider"

// DefaultVoice is used when a language has no table entry.
const DefaultVoice = "en-US-JennyNeural"

// VoicePair holds the female and male Azure neural voice for one language.
type VoicePair struct {
	Female string
	Male   string
}

// VoiceTable maps a base language subtag to its neural voices.
var VoiceTable = map[string]VoicePair{
	"en": {"en-US-JennyNeural", "en-US-GuyNeural"},
	"es": {"es-ES-ElviraNeural", "es-ES-AlvaroNeural"},
	"fr": {"fr-FR-DeniseNeural", "fr-FR-HenriNeural"},
	"de": {"de-DE-KatjaNeural", "de-DE-ConradNeural"},
	"it": {"it-IT-ElsaNeural", "it-IT-DiegoNeural"},
	"ja": {"ja-JP-NanamiNeural", "ja-JP-KeitaNeural"},
	"ko": {"ko-KR-SunHiNeural", "ko-KR-InJoonNeural"},
	"pt": {"pt-BR-FranciscaNeural", "pt-BR-AntonioNeural"},
	"ru": {"ru-RU-SvetlanaNeural", "ru-RU-DmitryNeural"},
	"zh": {"zh-CN-XiaoxiaoNeural", "zh-CN-YunjianNeural"},
	"hi": {"hi-IN-SwaraNeural", "hi-IN-MadhurNeural"},
	"ta": {"ta-IN-PallaviNeural", "ta-IN-ValluvarNeural"},
	"te": {"te-IN-ShrutiNeural", "te-IN-MohanNeural"},
	"mr": {"mr-IN-AarohiNeural", "mr-IN-ManoharNeural"},
	"gu": {"gu-IN-DhwaniNeural", "gu-IN-NiranjanNeural"},
	"bn": {"bn-IN-TanishaaNeural", "bn-IN-BashkarNeural"},
	"kn": {"kn-IN-SapnaNeural", "kn-IN-GaganNeural"},
	"ml": {"ml-IN-SobhanaNeural", "ml-IN-MidhunNeural"},
	"pa": {"pa-IN-GurmanNeural", "pa-IN-JaskaranNeural"},
	"ur": {"ur-IN-GulNeural", "ur-IN-SalmanNeural"},
}

// LookupVoice returns the voice for lang and gender: the gendered entry of the
// base language, else its female voice, else DefaultVoice.
func LookupVoice(lang string, gender Gender) string {
	pair, ok := VoiceTable[provider.BaseLanguage(lang)]
	if !ok {
		return DefaultVoice
	}
	if gender == Male && pair.Male != "" {
		return pair.Male
	}
	if pair.Female != "" {
		return pair.Female
	}
	return DefaultVoice
}
