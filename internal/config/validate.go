package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

var (
	vOnce  sync.Once
	vInst  *validator.Validate
	vTrans ut.Translator
)

// validatorInstance builds the shared validator with English messages and
// yaml field names, so errors name the keys a user actually wrote.
func validatorInstance() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("yaml")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("imagekind", func(fl validator.FieldLevel) bool {
			return model.ImageKind(fl.Field().String()).IsValid()
		})
		_ = v.RegisterTranslation("imagekind", trans,
			func(ut ut.Translator) error {
				return ut.Add("imagekind", "{0} must be one of workshop, openclaw, hcie", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("imagekind", fe.Field())
				return msg
			},
		)

		vInst, vTrans = v, trans
	})
	return vInst, vTrans
}

// Validate checks struct-level rules and the cross references between
// registries and image profiles. All problems are reported together.
func Validate(cfg *Config) error {
	v, trans := validatorInstance()

	var errs []error
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			ns := strings.TrimPrefix(fe.Namespace(), "Config.")
			errs = append(errs, fmt.Errorf("%s: %s", ns, fe.Translate(trans)))
		}
	}

	paths := make(map[string]string)
	for _, r := range cfg.Registries {
		if r.Path == "" {
			continue
		}
		clean := filepath.Clean(r.Path)
		if other, dup := paths[clean]; dup {
			errs = append(errs, fmt.Errorf("registries %q and %q share record %s", other, r.Name, clean))
		}
		paths[clean] = r.Name
	}

	for _, p := range cfg.Images {
		if _, ok := cfg.Registry(p.Registry); p.Registry != "" && !ok {
			errs = append(errs, fmt.Errorf("images[%s].registry: unknown registry %q", p.Kind, p.Registry))
		}
	}
	if cfg.DefaultImage != "" {
		if _, ok := cfg.Profile(cfg.DefaultImage); !ok {
			errs = append(errs, fmt.Errorf("defaultImage: no image profile %q", cfg.DefaultImage))
		}
	}

	return errors.Join(errs...)
}
