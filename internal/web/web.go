// Package web は画面のHTMLテンプレートと静的ファイルを提供する。
// テンプレートと静的ファイルはバイナリに埋め込む。
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/hitoshi/pitchcheck/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// 画面名
const (
	PageLanding   = "landing"
	PageLogin     = "login"
	PageSignup    = "signup"
	PageDashboard = "dashboard"
)

var pageNames = []string{PageLanding, PageLogin, PageSignup, PageDashboard}

// LandingData はトップ画面の表示内容。
type LandingData struct {
	LoggedIn bool
}

// LoginData はログイン画面の表示内容。
type LoginData struct {
	Error       string // 認可コールバックから戻ったときのエラー
	ConfigError string // 空でなければフォームを無効化する
}

// SignupData はサインアップ画面の表示内容。
type SignupData struct {
	ConfigError string
}

// DashboardData はダッシュボードの表示内容。
type DashboardData struct {
	Email       string
	Videos      []*model.Video
	MaxUploadMB int64
	LoadError   string
}

// Renderer は画面ごとに解析済みのテンプレートを保持する。
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"statusLabel": func(v *model.Video) string {
		switch {
		case v.Status == model.VideoStatusCompleted:
			return "Completed"
		case v.EvaluationFailed():
			return "Evaluation failed"
		}
		return "Processing"
	},
	"statusClass": func(v *model.Video) string {
		if v.EvaluationFailed() {
			return "failed"
		}
		return string(v.Status)
	},
	"date": func(v *model.Video) string {
		return v.CreatedAt.Format("2006-01-02 15:04")
	},
}

// NewRenderer は埋め込みテンプレートを解析してRendererを生成する。
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render は画面をレンダリングしてレスポンスに書き込む。
// 途中で失敗した場合に壊れたHTMLを返さないよう、一度バッファに書き出す。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data any) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page: %s", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// StaticHandler は/static/配下の静的ファイルを配信するハンドラーを返す。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// 埋め込みのディレクトリ名は固定のため到達しない
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
