package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kozaktomas/punchclock/internal/gateway"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EmployeeSource lists the employee directory.
type EmployeeSource interface {
	Employees(ctx context.Context) ([]gateway.Employee, error)
}

// Directory is a periodically refreshed employee cache indexed by id and
// by name.
type Directory struct {
	source EmployeeSource
	logger *slog.Logger

	mu        sync.RWMutex
	byID      map[string]gateway.Employee
	byName    map[string]gateway.Employee
	byFolded  map[string]gateway.Employee
	refreshed time.Time
}

// NewDirectory creates an empty directory backed by source.
func NewDirectory(source EmployeeSource, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		source:   source,
		logger:   logger,
		byID:     map[string]gateway.Employee{},
		byName:   map[string]gateway.Employee{},
		byFolded: map[string]gateway.Employee{},
	}
}

// Refresh replaces the cache with the current directory. On error the
// previous entries are kept.
func (d *Directory) Refresh(ctx context.Context) error {
	employees, err := d.source.Employees(ctx)
	if err != nil {
		return fmt.Errorf("refresh directory: %w", err)
	}

	byID := make(map[string]gateway.Employee, len(employees))
	byName := make(map[string]gateway.Employee, len(employees))
	byFolded := make(map[string]gateway.Employee, len(employees))
	for _, emp := range employees {
		if emp.ID != "" {
			byID[string(emp.ID)] = emp
		}
		if emp.Name != "" {
			byName[emp.Name] = emp
			byFolded[FoldName(emp.Name)] = emp
		}
	}

	d.mu.Lock()
	d.byID, d.byName, d.byFolded = byID, byName, byFolded
	d.refreshed = time.Now()
	d.mu.Unlock()

	d.logger.Debug("overlay: directory refreshed", "employees", len(employees))
	return nil
}

// Lookup finds an employee by id, exact name, or folded name.
func (d *Directory) Lookup(key string) (gateway.Employee, bool) {
	if key == "" {
		return gateway.Employee{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if emp, ok := d.byID[key]; ok {
		return emp, true
	}
	if emp, ok := d.byName[key]; ok {
		return emp, true
	}
	emp, ok := d.byFolded[FoldName(key)]
	return emp, ok
}

// Len returns the number of cached employees.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// Refreshed returns when the cache was last loaded.
func (d *Directory) Refreshed() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.refreshed
}

// FoldName normalizes a name for comparison: no diacritics, lowercase,
// dashes and underscores as spaces, single spaces ("Jiří-Novák" -> "jiri novak").
func FoldName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	folded = strings.NewReplacer("-", " ", "_", " ").Replace(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// ResolvePhoto turns a backend photo reference into a URL under root.
// Absolute URLs are kept, paths are joined to root, and a missing photo
// falls back to the profile image of id.
func ResolvePhoto(root, photo, id string) string {
	root = strings.TrimSuffix(strings.TrimRight(root, "/"), "/api")
	switch {
	case strings.HasPrefix(photo, "http://") || strings.HasPrefix(photo, "https://"):
		return photo
	case strings.HasPrefix(photo, "/"):
		return root + photo
	case photo != "":
		return root + "/" + photo
	case id != "":
		return root + "/api/profiles/" + id + ".jpg"
	default:
		return ""
	}
}
