package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bbernstein/lacylights-engine/internal/database/models"
	"github.com/bbernstein/lacylights-engine/internal/fixture"
	"github.com/bbernstein/lacylights-engine/internal/services/fade"
	"github.com/bbernstein/lacylights-engine/internal/services/layers"
	"github.com/bbernstein/lacylights-engine/internal/services/pubsub"
)

// maxFadeDuration bounds executor fades requested over the API.
const maxFadeDuration = time.Hour

type levelRequest struct {
	Value *float64 `json:"value"`
}

// ProgrammerUpdate is published on pubsub.TopicProgrammer after every edit.
type ProgrammerUpdate struct {
	Values []layers.Value `json:"values"`
}

// target parses the fixture and attribute URL parameters. Fixtures must be patched.
func (s *Server) target(r *http.Request) (fixture.ID, fixture.Attribute, error) {
	id := fixture.ID(chi.URLParam(r, "fixture"))
	if _, ok := s.Scheduler.Patch().Fixture(id); !ok {
		return "", fixture.Attribute{}, fmt.Errorf("fixture %q is not patched", id)
	}
	attr, err := fixture.ParseAttribute(chi.URLParam(r, "attribute"))
	if err != nil {
		return "", fixture.Attribute{}, err
	}
	return id, attr, nil
}

// PublishProgrammer announces the current programmer contents on pubsub.TopicProgrammer.
func (s *Server) PublishProgrammer() {
	s.PubSub.PublishAll(pubsub.TopicProgrammer, ProgrammerUpdate{Values: s.Programmer.Values()})
}

func (s *Server) handleGetProgrammer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProgrammerUpdate{Values: s.Programmer.Values()})
}

func (s *Server) handleSetProgrammer(w http.ResponseWriter, r *http.Request) {
	id, attr, err := s.target(r)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	var req levelRequest
	if err := decodeJSON(r, &req); err != nil || req.Value == nil {
		writeBadRequest(w, `body must be {"value": <0..1>}`)
		return
	}
	s.Programmer.Set(id, attr, fixture.NewAttributeValue(*req.Value))
	s.PublishProgrammer()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsetProgrammer(w http.ResponseWriter, r *http.Request) {
	id, attr, err := s.target(r)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	s.Programmer.Unset(id, attr)
	s.PublishProgrammer()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearProgrammer(w http.ResponseWriter, _ *http.Request) {
	s.Programmer.Clear()
	s.PublishProgrammer()
	w.WriteHeader(http.StatusNoContent)
}

type presetResponse struct {
	Name   string         `json:"name"`
	Active bool           `json:"active"`
	Values []layers.Value `json:"values"`
}

func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	active := make(map[string]bool)
	for _, name := range s.Presets.Active() {
		active[name] = true
	}
	names := s.Presets.Stored()
	out := make([]presetResponse, 0, len(names))
	for _, name := range names {
		values, _ := s.Presets.Get(name)
		out = append(out, presetResponse{Name: name, Active: active[name], Values: values})
	}
	writeJSON(w, http.StatusOK, out)
}

type savePresetRequest struct {
	Values []layers.Value `json:"values"`
}

// handleSavePreset stores the given values, or a snapshot of the programmer when the
// body has none.
func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req savePresetRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid preset body: "+err.Error())
			return
		}
	}
	values := req.Values
	if values == nil {
		values = s.Programmer.Values()
	}

	rows := make([]models.PresetValue, 0, len(values))
	for _, v := range values {
		rows = append(rows, toRow(v))
	}
	if _, err := s.PresetRepo.Save(r.Context(), name, rows); err != nil {
		s.log.WithError(err).WithField("preset", name).Error("Failed to save preset")
		writeInternalError(w, "failed to save preset")
		return
	}
	s.Presets.Store(name, values)
	stored, _ := s.Presets.Get(name)
	writeJSON(w, http.StatusOK, presetResponse{Name: name, Values: stored})
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.PresetRepo.Delete(r.Context(), name); err != nil {
		s.log.WithError(err).WithField("preset", name).Error("Failed to delete preset")
		writeInternalError(w, "failed to delete preset")
		return
	}
	s.Presets.Delete(name)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPreset returns a preset as persisted, which is what a restart recalls.
func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	row, err := s.PresetRepo.FindByName(r.Context(), name)
	if err != nil {
		s.log.WithError(err).WithField("preset", name).Error("Failed to load preset")
		writeInternalError(w, "failed to load preset")
		return
	}
	if row == nil {
		writeNotFound(w, fmt.Sprintf("preset %q not found", name))
		return
	}
	active := false
	for _, n := range s.Presets.Active() {
		if n == name {
			active = true
			break
		}
	}
	writeJSON(w, http.StatusOK, presetResponse{Name: row.Name, Active: active, Values: presetValues(row.Values)})
}

func (s *Server) handleRecallPreset(w http.ResponseWriter, r *http.Request) {
	if err := s.Presets.Recall(chi.URLParam(r, "name")); err != nil {
		if errors.Is(err, layers.ErrUnknownPreset) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReleasePreset(w http.ResponseWriter, r *http.Request) {
	s.Presets.Release(chi.URLParam(r, "name"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReleaseAllPresets(w http.ResponseWriter, _ *http.Request) {
	s.Presets.ReleaseAll()
	w.WriteHeader(http.StatusNoContent)
}

type fadeRequest struct {
	Targets    []layers.Value `json:"targets"`
	DurationMs int            `json:"duration_ms"`
	Easing     string         `json:"easing"`
}

func (s *Server) handleGetExecutor(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"activeFades": s.Executor.ActiveFades()})
}

func (s *Server) handleFade(w http.ResponseWriter, r *http.Request) {
	var req fadeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid fade body: "+err.Error())
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "at least one target is required")
		return
	}
	duration := time.Duration(req.DurationMs) * time.Millisecond
	if duration < 0 || duration > maxFadeDuration {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "duration_ms out of range")
		return
	}
	easing, err := fade.ParseEasing(req.Easing)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	targets := make([]fade.Target, 0, len(req.Targets))
	for _, t := range req.Targets {
		if _, ok := s.Scheduler.Patch().Fixture(t.Fixture); !ok {
			writeNotFound(w, fmt.Sprintf("fixture %q is not patched", t.Fixture))
			return
		}
		targets = append(targets, fade.Target{
			Fixture:   t.Fixture,
			Attribute: t.Attribute,
			Value:     fixture.NewAttributeValue(t.Level),
		})
	}
	id := s.Executor.Fade(targets, duration, easing, nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

type fadeStatus struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

func (s *Server) handleGetFade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, fadeStatus{ID: id, Active: s.Executor.IsActive(id)})
}

// handleCancelFade stops a running fade where it is; the attributes hold their level.
func (s *Server) handleCancelFade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Executor.Cancel(id) {
		writeNotFound(w, fmt.Sprintf("fade %q is not running", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReleaseExecutor(w http.ResponseWriter, _ *http.Request) {
	s.Executor.ReleaseAll()
	w.WriteHeader(http.StatusNoContent)
}

func toRow(v layers.Value) models.PresetValue {
	return models.PresetValue{
		FixtureID: string(v.Fixture),
		Attribute: v.Attribute.String(),
		Value:     v.Level,
	}
}

func fromRow(row models.PresetValue) (layers.Value, bool) {
	attr, err := fixture.ParseAttribute(row.Attribute)
	if err != nil {
		return layers.Value{}, false
	}
	return layers.Value{Fixture: fixture.ID(row.FixtureID), Attribute: attr, Level: row.Value}, true
}
