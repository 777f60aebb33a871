package actions

import (
	"html/template"
	"strings"

	"github.com/dustin/go-humanize"
)

var tmpl = template.Must(template.New("affordance").Funcs(template.FuncMap{
	"price": formatPrice,
}).Parse(`
{{- define "button" -}}
<div class="chatembed-action chatembed-action--{{.Type}}">
{{- if .Message}}<p class="chatembed-action__message">{{.Message}}</p>{{end -}}
{{- if .Href -}}
<a class="chatembed-action__button" href="{{.Href}}" target="_blank" rel="noopener noreferrer"><span class="chatembed-icon chatembed-icon--{{.Icon}}" aria-hidden="true"></span>{{.Label}}</a>
{{- else -}}
<button type="button" class="chatembed-action__button" data-action-id="{{.ActionID}}"><span class="chatembed-icon chatembed-icon--{{.Icon}}" aria-hidden="true"></span>{{.Label}}</button>
{{- end -}}
</div>
{{- end -}}

{{- define "media" -}}
<div class="chatembed-media chatembed-media--{{.MediaType}}">
{{- if .Message}}<p class="chatembed-action__message">{{.Message}}</p>{{end -}}
{{- if eq .MediaType "image" -}}
<img src="{{.Href}}" alt="{{.Label}}" loading="lazy">
{{- else if eq .MediaType "video" -}}
<video src="{{.Href}}" controls preload="metadata"></video>
{{- else if eq .MediaType "audio" -}}
<audio src="{{.Href}}" controls preload="metadata"></audio>
{{- else -}}
<a class="chatembed-media__download" href="{{.Href}}" target="_blank" rel="noopener noreferrer" download>{{.Label}}
{{- if or .SizeLabel .Pages}} <span class="chatembed-media__meta">(
{{- if .Pages}}{{.Pages}} pages{{if .SizeLabel}}, {{end}}{{end}}{{.SizeLabel}})</span>{{end -}}
</a>
{{- end -}}
</div>
{{- end -}}

{{- define "carousel" -}}
<div class="chatembed-carousel">
{{- if .Message}}<p class="chatembed-action__message">{{.Message}}</p>{{end -}}
<div class="chatembed-carousel__track">
{{- $cur := .Currency -}}
{{- range .Products -}}
<div class="chatembed-product">
{{- if .ImageURL}}<img class="chatembed-product__image" src="{{.ImageURL}}" alt="{{.Name}}" loading="lazy">{{end -}}
<div class="chatembed-product__name">{{.Name}}</div>
<div class="chatembed-product__price">{{price .Price (or .Currency $cur)}}</div>
{{- if .URL}}<a class="chatembed-product__link" href="{{.URL}}" target="_blank" rel="noopener noreferrer">View</a>{{end -}}
</div>
{{- end -}}
</div>
</div>
{{- end -}}
`))

// buttonView carries a pre-validated href. html/template would otherwise
// neutralize tel: URLs.
type buttonView struct {
	*Affordance
	Href template.URL
}

// RenderHTML renders a as an HTML fragment. A nil affordance renders as the
// empty string.
func RenderHTML(a *Affordance) (string, error) {
	if a == nil {
		return "", nil
	}
	var sb strings.Builder
	var err error
	switch a.Kind {
	case KindButton:
		err = tmpl.ExecuteTemplate(&sb, "button", buttonView{Affordance: a, Href: template.URL(a.Href)})
	case KindMedia:
		err = tmpl.ExecuteTemplate(&sb, "media", a)
	case KindCarousel:
		err = tmpl.ExecuteTemplate(&sb, "carousel", a)
	}
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func formatPrice(p float64, currency string) string {
	s := humanize.FormatFloat("#,###.##", p)
	if currency == "" {
		return s
	}
	return s + " " + currency
}
