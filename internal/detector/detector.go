package detector

import (
	lingua "github.com/pemistahl/lingua-go"
)

// storeLanguages covers every language with an App Store locale. Restricting
// the model keeps start-up fast and avoids confusing close relatives the
// store never uses.
var storeLanguages = []lingua.Language{
	lingua.Arabic, lingua.Catalan, lingua.Chinese, lingua.Croatian, lingua.Czech,
	lingua.Danish, lingua.Dutch, lingua.English, lingua.Finnish, lingua.French,
	lingua.German, lingua.Greek, lingua.Hebrew, lingua.Hindi, lingua.Hungarian,
	lingua.Indonesian, lingua.Italian, lingua.Japanese, lingua.Korean, lingua.Malay,
	lingua.Bokmal, lingua.Nynorsk, lingua.Polish, lingua.Portuguese, lingua.Romanian,
	lingua.Russian, lingua.Slovak, lingua.Spanish, lingua.Swedish, lingua.Thai,
	lingua.Turkish, lingua.Ukrainian, lingua.Vietnamese,
}

type Detector struct {
	detector lingua.LanguageDetector
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(storeLanguages...).
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the upper-case ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}
