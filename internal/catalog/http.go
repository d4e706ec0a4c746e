package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"Inventario/pkg/kit"
)

const (
	// DefaultMaxUploadBytes caps request bodies when Server.MaxUploadBytes is unset.
	DefaultMaxUploadBytes = 2 << 20

	ImagesPrefix = "/static/uploads/"

	exportJSONName = "productos_actualizados.json"
	exportCSVName  = "productos_actualizados.csv"
	exportXLSXName = "productos_actualizados.xlsx"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Messages shown to the user, kept identical to the pages' wording.
const (
	msgDuplicate    = "Producto ya existente"
	msgNotFound     = "Producto no encontrado"
	msgNoFile       = "No se envió ningún archivo"
	msgEmptyFile    = "Archivo no seleccionado"
	msgNotJSON      = "Solo se permiten archivos JSON"
	msgBadJSON      = "Archivo JSON inválido"
	msgTooLarge     = "Archivo demasiado grande"
	msgServerError  = "Error interno del servidor"
	msgImportResult = "Se agregaron %d productos nuevos."
	msgBadForm      = "Formulario inválido"
	msgInvalidField = "Valor inválido en %s: %s"
	msgInvalidQuery = "Filtro inválido en %s: %q"
)

// Spanish wording for ValidationError reasons.
var reasonMessages = map[string]string{
	reasonRequired:        "es obligatorio",
	reasonWholeNumber:     "debe ser un número entero",
	reasonNumber:          "debe ser un número",
	reasonNegative:        "no puede ser negativo",
	reasonImageType:       "tipo de imagen no permitido",
	reasonUploadsDisabled: "la subida de imágenes está deshabilitada",
}

type Server struct {
	Store Catalog
	Log   *zap.Logger

	// UploadDir is served under ImagesPrefix when set.
	UploadDir      string
	MaxUploadBytes int64

	Metrics       *OpMetrics
	ImportLimiter *kit.IPRateLimiter
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		if err := s.Store.Ping(ctx); err != nil {
			s.logger().Warn("readyz failed", zap.Error(err))
			kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/", s.index)
	r.Post("/agregar", s.add)
	r.Get("/editar/{id}", s.editForm)
	r.Post("/editar/{id}", s.edit)
	r.Get("/eliminar/{id}", s.remove)
	r.Get("/descargar_json", s.exportJSON)
	r.Get("/descargar_csv", s.exportCSV)
	r.Get("/descargar_xlsx", s.exportXLSX)

	if s.ImportLimiter != nil {
		r.With(s.ImportLimiter.Middleware).Post("/subir_json", s.importJSON)
	} else {
		r.Post("/subir_json", s.importJSON)
	}

	if s.UploadDir != "" {
		r.Get(ImagesPrefix+"*", s.images())
	}

	return r
}

type indexPage struct {
	Products []Product
	Search   string
	PriceMin string
	PriceMax string
	UnitsMin string
	UnitsMax string
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := ParseFilter(q)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	products, err := s.Store.List(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.render(w, r, "index.html", indexPage{
		Products: products,
		Search:   q.Get(ParamSearch),
		PriceMin: q.Get(ParamPriceMin),
		PriceMax: q.Get(ParamPriceMax),
		UnitsMin: q.Get(ParamUnitsMin),
		UnitsMax: q.Get(ParamUnitsMax),
	})
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	form, done, err := s.readProductForm(w, r)
	if err != nil {
		s.writeFormError(w, r, err)
		return
	}
	defer done()

	p, err := s.Store.Add(r.Context(), form)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.Metrics.created()
	s.logger().Info("product created", zap.String("id", p.ID), zap.String("name", p.Name))

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) editForm(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.render(w, r, "editar.html", p)
}

func (s *Server) edit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	form, done, err := s.readProductForm(w, r)
	if err != nil {
		s.writeFormError(w, r, err)
		return
	}
	defer done()

	if _, err := s.Store.Update(r.Context(), id, form); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.Metrics.updated()

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	removed, err := s.Store.Delete(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if removed {
		s.Metrics.deleted()
		s.logger().Info("product deleted", zap.String("id", id))
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) importJSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	if err := r.ParseMultipartForm(s.maxUpload()); err != nil {
		if isTooLarge(err) {
			kit.WriteText(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		kit.WriteText(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("jsonfile")
	if err != nil {
		// A file input left empty arrives as a plain value with no file name.
		if _, sent := r.MultipartForm.Value["jsonfile"]; sent {
			kit.WriteText(w, http.StatusBadRequest, msgEmptyFile)
			return
		}
		kit.WriteText(w, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	if hdr.Filename == "" {
		kit.WriteText(w, http.StatusBadRequest, msgEmptyFile)
		return
	}
	if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".json") {
		kit.WriteText(w, http.StatusBadRequest, msgNotJSON)
		return
	}

	records, err := DecodeImport(file)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	rep, err := s.Store.BulkImport(r.Context(), records)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.Metrics.imported(rep.Added)
	s.logger().Info("catalog import",
		zap.String("file", hdr.Filename),
		zap.Int("added", rep.Added),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("invalid", rep.Invalid),
	)

	kit.WriteText(w, http.StatusOK, fmt.Sprintf(msgImportResult, rep.Added))
}

func (s *Server) exportJSON(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.Store.ExportJSON(r.Context(), &buf); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	kit.WriteAttachment(w, exportJSONName, "application/json", buf.Bytes())
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.Store.ExportCSV(r.Context(), &buf); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	kit.WriteAttachment(w, exportCSVName, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) exportXLSX(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.Store.ExportXLSX(r.Context(), &buf); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	kit.WriteAttachment(w, exportXLSXName, xlsxContentType, buf.Bytes())
}

func (s *Server) images() http.HandlerFunc {
	fs := http.StripPrefix(ImagesPrefix, http.FileServer(http.Dir(s.UploadDir)))
	return func(w http.ResponseWriter, r *http.Request) {
		if !ServableImageName(chi.URLParam(r, "*")) {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	}
}

// readProductForm parses the add/edit form. The returned func releases the
// uploaded image and must be called once the store is done with it.
func (s *Server) readProductForm(w http.ResponseWriter, r *http.Request) (ProductForm, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	if err := r.ParseMultipartForm(s.maxUpload()); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return ProductForm{}, nil, err
	}

	form := ProductForm{
		Name:  r.FormValue("nombre"),
		Units: r.FormValue("unidades"),
		Price: r.FormValue("precio"),
	}

	var file multipart.File
	done := func() {
		if file != nil {
			_ = file.Close()
		}
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	f, hdr, err := r.FormFile("imagen")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		done()
		return ProductForm{}, nil, err
	case hdr.Filename != "":
		file = f
		form.Image = &ImageUpload{Filename: hdr.Filename, Content: f}
	default:
		_ = f.Close()
	}

	return form, done, nil
}

func (s *Server) writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	if isTooLarge(err) {
		kit.WriteText(w, http.StatusRequestEntityTooLarge, msgTooLarge)
		return
	}
	kit.WriteText(w, http.StatusBadRequest, msgBadForm)
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrDuplicateName):
		kit.WriteText(w, http.StatusBadRequest, msgDuplicate)
	case errors.Is(err, ErrNotFound):
		kit.WriteText(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidFilter):
		kit.WriteText(w, http.StatusBadRequest, invalidInputMessage(err))
	case errors.Is(err, ErrImportFormat):
		kit.WriteText(w, http.StatusBadRequest, msgBadJSON)
	default:
		s.logger().Error("catalog operation failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		kit.WriteText(w, http.StatusInternalServerError, msgServerError)
	}
}

func invalidInputMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		reason, ok := reasonMessages[ve.Message]
		if !ok {
			reason = ve.Message
		}
		return fmt.Sprintf(msgInvalidField, ve.Field, reason)
	}
	var fe *InvalidFilterError
	if errors.As(err, &fe) {
		return fmt.Sprintf(msgInvalidQuery, fe.Param, fe.Value)
	}
	return msgBadForm
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.writeStoreError(w, r, fmt.Errorf("render %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) maxUpload() int64 {
	if s.MaxUploadBytes > 0 {
		return s.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
