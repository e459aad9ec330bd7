package server

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"runtime"
	"time"

	"github.com/born-ml/graphfreeze/internal/graph"
	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/born-ml/graphfreeze/internal/importer"
	"github.com/born-ml/graphfreeze/internal/registry"
	"github.com/born-ml/graphfreeze/internal/tensor"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	logs "github.com/sirupsen/logrus"
)

// MaxUploadSize bounds the size of an uploaded graph after decompression.
const MaxUploadSize = 1 << 30

var validName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// helper function to provide error response
func responseError(w http.ResponseWriter, msg string, err error, code int) {
	logs.WithFields(logs.Fields{"Error": err, "Code": code}).Error(msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	rec := map[string]string{"error": msg}
	if err != nil {
		rec["error"] = fmt.Sprintf("%s: %v", msg, err)
	}
	_ = json.NewEncoder(w).Encode(rec)
}

// helper function to provide response in JSON data format
func responseJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logs.WithFields(logs.Fields{"Error": err}).Error("unable to encode response")
	}
}

// GzipReader closes both the gzip stream and the request body.
type GzipReader struct {
	*gzip.Reader
	io.Closer
}

// Close closes the underlying request body.
func (gz GzipReader) Close() error {
	return gz.Closer.Close()
}

// readBody returns the request body, decompressing it when the client sent
// Content-Encoding: gzip.
func readBody(r *http.Request) ([]byte, error) {
	var body io.ReadCloser = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		reader, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		body = GzipReader{reader, r.Body}
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, MaxUploadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxUploadSize {
		return nil, fmt.Errorf("graph exceeds %d bytes", MaxUploadSize)
	}
	return data, nil
}

// UploadHandler stores a frozen graph sent as the request body under the
// name given by the "name" query parameter.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if !validName.MatchString(name) {
		responseError(w, fmt.Sprintf("invalid model name %q", name), nil, http.StatusBadRequest)
		return
	}
	data, err := readBody(r)
	if err != nil {
		responseError(w, "unable to read body", err, http.StatusBadRequest)
		return
	}
	def, err := graphdef.Unmarshal(data)
	if err != nil {
		responseError(w, "unable to parse graph", err, http.StatusBadRequest)
		return
	}
	// Importing checks that every op is supported and every input resolves.
	if _, err := importer.Into(graph.New(), def, importer.Options{}); err != nil {
		responseError(w, "unable to import graph", err, http.StatusBadRequest)
		return
	}

	path := s.modelPath(name)
	if err := graphdef.WriteBytes(path, data); err != nil {
		responseError(w, "unable to write graph", err, http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(data)
	info := graphdef.Info(def)
	rec, err := s.registry.Put(registry.Record{
		Name:      name,
		Path:      path,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      int64(len(data)),
		Nodes:     info.NodeCount,
		Variables: info.Variables,
		Inputs:    info.Inputs,
		Outputs:   info.Outputs,
	})
	if err != nil {
		responseError(w, "unable to register graph", err, http.StatusInternalServerError)
		return
	}
	s.cache.remove(name)
	logs.WithFields(logs.Fields{"model": name, "nodes": rec.Nodes, "size": rec.Size}).Info("Uploaded graph")
	responseJSON(w, rec)
}

// ModelsHandler returns the registered models.
func (s *Server) ModelsHandler(w http.ResponseWriter, _ *http.Request) {
	models, err := s.registry.List()
	if err != nil {
		responseError(w, "unable to list models", err, http.StatusInternalServerError)
		return
	}
	if models == nil {
		models = []registry.Record{}
	}
	responseJSON(w, models)
}

// ModelInfo is the response of ModelHandler.
type ModelInfo struct {
	Model registry.Record    `json:"model"`
	Info  graphdef.ModelInfo `json:"info"`
}

// record looks up the model named in the route, answering 404 itself.
func (s *Server) record(w http.ResponseWriter, r *http.Request) (registry.Record, bool) {
	name := mux.Vars(r)["name"]
	rec, err := s.registry.Get(name)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		responseError(w, fmt.Sprintf("unknown model %s", name), nil, http.StatusNotFound)
		return rec, false
	case err != nil:
		responseError(w, "unable to look up model", err, http.StatusInternalServerError)
		return rec, false
	}
	return rec, true
}

// ModelHandler describes one model.
func (s *Server) ModelHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	def, err := graphdef.ReadFile(rec.Path)
	if err != nil {
		responseError(w, "unable to read graph", err, http.StatusInternalServerError)
		return
	}
	responseJSON(w, ModelInfo{Model: rec, Info: graphdef.Info(def)})
}

// DeleteHandler removes a model from the registry, the cache and the disk.
func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	if err := s.registry.Delete(rec.Name); err != nil {
		responseError(w, "unable to delete model", err, http.StatusInternalServerError)
		return
	}
	s.cache.remove(rec.Name)
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		responseError(w, fmt.Sprintf("unable to remove: %s", rec.Path), err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DataHandler sends the stored .pb file.
func (s *Server) DataHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	fin, err := os.Open(rec.Path)
	if err != nil {
		responseError(w, fmt.Sprintf("unable to open file: %s", rec.Path), err, http.StatusInternalServerError)
		return
	}
	defer fin.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name+".pb"))
	// http.ServeContent writes the header
	http.ServeContent(w, r, rec.Name+".pb", rec.Created, fin)
}

// TensorJSON is the JSON form of a tensor: a shape and row-major values.
type TensorJSON struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// PredictRequest feeds named tensors and fetches named outputs.
type PredictRequest struct {
	Inputs  map[string]TensorJSON `json:"inputs"`
	Outputs []string              `json:"outputs"`
}

// PredictResponse holds the fetched tensors by name.
type PredictResponse struct {
	Outputs map[string]TensorJSON `json:"outputs"`
}

// PredictHandler evaluates a model on the posted inputs.
func (s *Server) PredictHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responseError(w, "unable to decode request", err, http.StatusBadRequest)
		return
	}
	if len(req.Outputs) == 0 {
		responseError(w, "request names no outputs", nil, http.StatusBadRequest)
		return
	}
	g, err := s.cache.get(rec.Name)
	if err != nil {
		responseError(w, "unable to load model", err, http.StatusInternalServerError)
		return
	}

	feeds := make(map[string]*tensor.Tensor, len(req.Inputs))
	for name, tj := range req.Inputs {
		o, err := g.Tensor(name)
		if err != nil {
			responseError(w, "unknown input", err, http.StatusBadRequest)
			return
		}
		t, err := tj.toTensor(o.DataType())
		if err != nil {
			responseError(w, fmt.Sprintf("invalid input %s", name), err, http.StatusBadRequest)
			return
		}
		feeds[name] = t
	}

	start := time.Now()
	out, err := graph.NewSession(g).RunNamed(feeds, req.Outputs, nil)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, graph.ErrNodeNotFound) || errors.Is(err, graph.ErrMissingFeed) || errors.Is(err, graph.ErrInvalidInput) {
			code = http.StatusBadRequest
		}
		responseError(w, "unable to run model", err, code)
		return
	}
	logs.WithFields(logs.Fields{"model": rec.Name, "duration": time.Since(start).String()}).Debug("predict")

	resp := PredictResponse{Outputs: make(map[string]TensorJSON, len(out))}
	for i, name := range req.Outputs {
		resp.Outputs[name] = fromTensor(out[i])
	}
	responseJSON(w, resp)
}

func (tj TensorJSON) toTensor(dt graphdef.DataType) (*tensor.Tensor, error) {
	if dt == graphdef.DTInvalid {
		dt = graphdef.DTFloat
	}
	dtype, err := graphdef.TensorType(dt)
	if err != nil {
		return nil, err
	}
	shape := tensor.Shape(tj.Shape)
	if shape == nil {
		shape = tensor.Shape{}
	}
	// Match the values against the shape before allocating.
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(tj.Values) != shape.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v", len(tj.Values), shape)
	}
	t, err := tensor.New(dtype, shape)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case tensor.Float32:
		for i, v := range tj.Values {
			t.AsFloat32()[i] = float32(v)
		}
	case tensor.Float64:
		copy(t.AsFloat64(), tj.Values)
	case tensor.Int32:
		for i, v := range tj.Values {
			t.AsInt32()[i] = int32(v)
		}
	case tensor.Int64:
		for i, v := range tj.Values {
			t.AsInt64()[i] = int64(v)
		}
	default:
		data := t.Data()
		for i, v := range tj.Values {
			if v != 0 {
				data[i] = byte(v)
			}
		}
	}
	return t, nil
}

func fromTensor(t *tensor.Tensor) TensorJSON {
	tj := TensorJSON{Shape: append([]int{}, t.Shape()...), Values: make([]float64, t.NumElements())}
	switch t.DType() {
	case tensor.Float32:
		for i, v := range t.AsFloat32() {
			tj.Values[i] = float64(v)
		}
	case tensor.Float64:
		copy(tj.Values, t.AsFloat64())
	case tensor.Int32:
		for i, v := range t.AsInt32() {
			tj.Values[i] = float64(v)
		}
	case tensor.Int64:
		for i, v := range t.AsInt64() {
			tj.Values[i] = float64(v)
		}
	default:
		for i, v := range t.Data() {
			tj.Values[i] = float64(v)
		}
	}
	return tj
}

// Memory contains details about memory information.
type Memory struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

// Status is the response of StatusHandler.
type Status struct {
	Uptime         float64       `json:"uptime"`
	Goroutines     int           `json:"goroutines"`
	CachedGraphs   int           `json:"cachedGraphs"`
	GetRequests    uint64        `json:"getRequests"`
	PostRequests   uint64        `json:"postRequests"`
	DeleteRequests uint64        `json:"deleteRequests"`
	Memory         Memory        `json:"memory"`
	Swap           Memory        `json:"swap"`
	Load           *load.AvgStat `json:"load,omitempty"`
	CPU            []float64     `json:"cpu"`
}

// StatusHandler reports server counters and host statistics.
func (s *Server) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	st := Status{
		Uptime:         time.Since(s.start).Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		CachedGraphs:   s.cache.size(),
		GetRequests:    s.stats.get.Load(),
		PostRequests:   s.stats.post.Load(),
		DeleteRequests: s.stats.del.Load(),
	}
	// host statistics are best effort; unsupported platforms leave them empty
	if m, err := mem.VirtualMemory(); err == nil {
		st.Memory = Memory{Total: m.Total, Free: m.Free, Used: m.Used, UsedPercent: m.UsedPercent}
	}
	if sw, err := mem.SwapMemory(); err == nil {
		st.Swap = Memory{Total: sw.Total, Free: sw.Free, Used: sw.Used, UsedPercent: sw.UsedPercent}
	}
	if l, err := load.Avg(); err == nil {
		st.Load = l
	}
	if c, err := cpu.Percent(time.Millisecond, true); err == nil {
		st.CPU = c
	}
	responseJSON(w, st)
}
