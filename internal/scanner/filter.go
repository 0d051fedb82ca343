package scanner

import (
	"path/filepath"
	"strings"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// Selector and class-name prefixes used by common Angular UI libraries.
var (
	librarySelectorPrefixes = []string{"mat-", "cdk-", "mdc-", "p-", "nz-", "ion-", "kendo-", "dx-", "ngx-", "clr-", "tui-", "mdb-"}
	libraryNamePrefixes     = []string{"Mat", "Cdk", "Mdc", "Nz", "Ion", "Kendo", "Dx", "Ngx", "Clr", "Tui", "Mdb"}
	libraryModulePrefixes   = []string{"@angular/material", "@angular/cdk", "primeng", "ng-zorro-antd", "@ionic/angular", "@progress/kendo", "devextreme-angular", "@clr/angular", "@taiga-ui"}
)

// IsLibraryArtifact reports whether d looks like a third-party UI library
// component rather than application code. Selector and name prefixes are
// strong signals; imports and dependencies only count when they reference
// library-private symbols (ɵ-prefixed or _Mat style) or the descriptor lives
// under node_modules.
func IsLibraryArtifact(d *models.ComponentDescriptor) bool {
	if d == nil {
		return false
	}
	if strings.Contains(filepath.ToSlash(d.FilePath), "/node_modules/") {
		return true
	}
	for _, p := range librarySelectorPrefixes {
		if strings.HasPrefix(d.Selector, p) {
			return true
		}
	}
	for _, p := range libraryNamePrefixes {
		if hasWordPrefix(d.Name, p) {
			return true
		}
	}
	for _, name := range append(append([]string{}, d.Imports...), d.Dependencies...) {
		if isPrivateLibrarySymbol(name) {
			return true
		}
	}
	return false
}

// hasWordPrefix reports whether name starts with prefix followed by an
// upper-case letter, so "MatButton" matches "Mat" but "Matrix" does not.
func hasWordPrefix(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return false
	}
	c := name[len(prefix)]
	return c >= 'A' && c <= 'Z'
}

func isPrivateLibrarySymbol(name string) bool {
	if strings.HasPrefix(name, "ɵ") {
		return true
	}
	if strings.HasPrefix(name, "_") {
		for _, p := range libraryNamePrefixes {
			if hasWordPrefix(name[1:], p) {
				return true
			}
		}
	}
	for _, p := range libraryModulePrefixes {
		if strings.HasPrefix(name, p+"/") && strings.Contains(name, "/private") {
			return true
		}
	}
	return false
}
