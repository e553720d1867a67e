// Package control serves an HTTP API for inspecting drives and for raw
// sector access, mirroring the disk I/O calls one to one.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

// largest sector count served by a single request
const maxSectorCount = 2048

type APIServer interface {
	Serve() error
	Stop() error
}

func NewAPIServer(addr string, disk *fatfs.Disk) APIServer {
	if len(strings.Split(addr, ":")) < 2 {
		addr = fmt.Sprintf("%s:8888", addr)
	}
	a := &api{disk: disk}
	a.server = &http.Server{Addr: addr, Handler: a.handler()}
	return a
}

type api struct {
	disk   *fatfs.Disk
	server *http.Server
}

// Serve returns right away when Stop has already been called.
func (a *api) Serve() error {
	log.Infof("diskio API starts listening on %s", a.server.Addr)
	err := a.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *api) Stop() error {
	log.Info("API server stopping...")
	return a.server.Shutdown(context.Background())
}

func (a *api) handler() http.Handler {

	router := mux.NewRouter().StrictSlash(true)

	addRoute(router, "status", "GET", "/status", a.status)
	addRoute(router, "drivestatus", "GET", "/drive/{drive}/status", a.driveStatus)
	addRoute(router, "init", "PUT", "/drive/{drive}/init", a.initialize)
	addRoute(router, "ioctl", "GET", "/drive/{drive}/ioctl/{cmd}", a.ioctl)
	addRoute(router, "read", "GET", "/drive/{drive}/sector/{lba:[0-9]+}", a.read)
	addRoute(router, "write", "PUT", "/drive/{drive}/sector/{lba:[0-9]+}", a.write)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(log.StandardLogger()),
		handlers.PrintRecoveryStack(true),
	)(router)
}

func addRoute(r *mux.Router, name, method, pattern string,
	handler http.HandlerFunc) {
	r.Methods(method).
		Path(pattern).
		Name(name).
		Handler(requestLogger(handler, name))
}

func requestLogger(inner http.Handler, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		log.WithFields(log.Fields{
			"remote": r.RemoteAddr,
			"method": r.Method,
			"path":   r.RequestURI,
		}).Debugf("API BEGIN | %s", name)

		start := time.Now()
		inner.ServeHTTP(w, r)

		log.WithFields(log.Fields{
			"remote":   r.RemoteAddr,
			"method":   r.Method,
			"path":     r.RequestURI,
			"duration": time.Since(start),
		}).Debugf("API END   | %s", name)
	})
}

// getDrive returns the drive named in the path, or false after sending an
// error reply.
func getDrive(w http.ResponseWriter, req *http.Request) (fatfs.Drive, bool) {
	drive, err := fatfs.ParseDrive(mux.Vars(req)["drive"])
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return 0, false
	}
	return drive, true
}

func getArg(req *http.Request, arg string) (string, error) {
	ret := req.URL.Query().Get(arg)
	if ret != "" {
		return url.QueryUnescape(ret)
	}
	return ret, nil
}

func getIntArg(req *http.Request, arg string, def int) (int, error) {
	a, err := getArg(req, arg)
	if err != nil {
		return -1, err
	}
	if a == "" {
		return def, nil
	}
	return strconv.Atoi(a)
}

// resultStatus maps a disk result onto an HTTP status code.
func resultStatus(res fatfs.Result) int {
	switch res {
	case fatfs.ResultOK:
		return http.StatusOK
	case fatfs.ResultParameterError:
		return http.StatusUnprocessableEntity
	case fatfs.ResultNotReady:
		return http.StatusServiceUnavailable
	case fatfs.ResultWriteProtected:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// handleResult sends an error reply for any result other than ResultOK.
func handleResult(res fatfs.Result, w http.ResponseWriter) bool {
	return handleError(res.Err(), resultStatus(res), w)
}

func setHeaders(h http.Header, json bool) {
	if json {
		h.Set("Content-Type", "application/json; charset=UTF-8")
	} else {
		h.Set("Content-Type", "text/plain; charset=UTF-8")
	}
}

func handleError(e error, statusCode int, w http.ResponseWriter) bool {

	if e == nil {
		return false
	}

	log.Errorf("%v", e)

	setHeaders(w.Header(), false)
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(fmt.Sprintf("%v\n", e))); err != nil {
		log.Errorf("problem writing error: %v", err)
	}

	return true
}

func sendReply(body []byte, statusCode int, w http.ResponseWriter) {
	setHeaders(w.Header(), false)
	w.WriteHeader(statusCode)
	if _, err := fmt.Fprintf(w, "%s\n", body); err != nil {
		log.Errorf("problem sending reply: %v", err)
	}
}

func sendJSONReply(obj interface{}, statusCode int, w http.ResponseWriter) {
	setHeaders(w.Header(), true)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("problem writing reply: %v", err)
	}
}

func wantsJSON(req *http.Request) bool {
	return strings.HasPrefix(req.Header.Get("Accept"), "application/json") ||
		req.Header.Get("Content-Type") == "application/json"
}
