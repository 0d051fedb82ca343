package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

const userCardSrc = `import { Component, OnInit, computed, inject, signal } from '@angular/core';
import { CommonModule } from '@angular/common';
import { UserService } from './user.service';

export interface UserView {
  id: number;
  name: string;
  meta: {
    tags: string[];
  };
}

@Component({
  selector: 'app-user-card',
  standalone: true,
  imports: [CommonModule, RouterLink],
  templateUrl: './user-card.component.html',
  styleUrls: ['./user-card.component.scss', './shared.scss'],
})
export class UserCardComponent implements OnInit {
  @Input() userId!: number;
  title = 'User';
  private readonly router = inject(Router);
  count = signal(0);
  doubled = computed(() => this.count() * 2);
  config = { dense: true };

  constructor(private userService: UserService, private http: HttpClient) {}

  get label(): string {
    return this.title;
  }

  set label(v: string) {
    this.title = v;
  }

  ngOnInit(): void {
    if (this.userId) {
      this.load();
    }
  }

  async load(): Promise<void> {
    const u = await this.userService.get(this.userId);
  }

  private format(name: string): string {
    return name.trim();
  }
}
`

func TestIsComponent(t *testing.T) {
	assert.True(t, IsComponent(userCardSrc))

	unbound := `export class HelperComponent {
  run() {}
}`
	assert.False(t, IsComponent(unbound), "class named *Component without decorator is not a component")

	markerOnly := `// @Component({ selector: 'x' })
const x = 1;
class NotExported {}`
	assert.False(t, IsComponent(markerOnly))

	withDecorators := `@Component({ selector: 'app-a', template: '<p>(a)</p>' })
// trailing comment
@SomethingElse()
export default class AComponent {}`
	assert.True(t, IsComponent(withDecorators))
}

func TestDescribe_Structure(t *testing.T) {
	d, ok := LineExtractor{}.Extract("src/app/user-card.component.ts", userCardSrc)
	require.True(t, ok)

	assert.Equal(t, "UserCardComponent", d.Name)
	assert.Equal(t, "app-user-card", d.Selector)
	assert.True(t, d.Standalone)
	assert.Equal(t, []string{"CommonModule", "RouterLink"}, d.Imports)
	assert.Equal(t, "./user-card.component.html", d.TemplateURL)
	assert.Equal(t, []string{"./user-card.component.scss", "./shared.scss"}, d.StyleURLs)

	assert.Contains(t, d.Methods, "ngOnInit")
	assert.Contains(t, d.Methods, "load")
	assert.Contains(t, d.Methods, "format")
	assert.NotContains(t, d.Methods, "label", "accessors are not methods")
	assert.NotContains(t, d.Methods, "constructor")
	assert.NotContains(t, d.Methods, "if")

	assert.Contains(t, d.Fields, "userId")
	assert.Contains(t, d.Fields, "title")
	assert.Contains(t, d.Fields, "router")
	assert.Contains(t, d.Fields, "config")

	assert.Equal(t, []string{"count"}, d.StatefulFields)
	assert.Equal(t, []string{"doubled"}, d.DerivedFields)

	require.Len(t, d.NestedTypes, 1)
	assert.Contains(t, d.NestedTypes[0], "export interface UserView {")
	assert.Contains(t, d.NestedTypes[0], "tags: string[];")
	assert.Contains(t, d.NestedTypes[0], "  };\n}")

	assert.Equal(t, []string{"UserService", "HttpClient", "Router"}, d.Dependencies)

	assert.Equal(t, d.Methods, d.FactsOf(models.FactMethod))
	assert.Equal(t, d.Dependencies, d.FactsOf(models.FactDependency))
}

func TestDeriveName_Fallbacks(t *testing.T) {
	// Suffix match when the decorator is not bound.
	src := `class ProfileComponent {}`
	assert.Equal(t, "ProfileComponent", LineExtractor{}.Describe("p.ts", src).Name)

	// Selector-derived name.
	src = `@Component({ selector: 'app-order-list' })`
	assert.Equal(t, "AppOrderListComponent", LineExtractor{}.Describe("o.ts", src).Name)

	// Nothing at all.
	assert.Equal(t, UnknownComponentName, LineExtractor{}.Describe("x.ts", "const a = 1;").Name)
}

func TestExtract_NotComponent(t *testing.T) {
	d, ok := LineExtractor{}.Extract("svc.ts", `@Injectable()
export class UserService {}`)
	assert.False(t, ok)
	assert.Nil(t, d)
}

func TestIsLibraryArtifact(t *testing.T) {
	tests := []struct {
		name string
		d    *models.ComponentDescriptor
		want bool
	}{
		{"app component", &models.ComponentDescriptor{Name: "UserCardComponent", Selector: "app-user-card", Imports: []string{"MatButtonModule"}}, false},
		{"material selector", &models.ComponentDescriptor{Name: "Button", Selector: "mat-button"}, true},
		{"primeng selector", &models.ComponentDescriptor{Name: "Table", Selector: "p-table"}, true},
		{"cdk name", &models.ComponentDescriptor{Name: "CdkPortal", Selector: "x"}, true},
		{"matrix is not material", &models.ComponentDescriptor{Name: "MatrixComponent", Selector: "app-matrix"}, false},
		{"private import", &models.ComponentDescriptor{Name: "A", Selector: "a", Imports: []string{"ɵɵdefineComponent"}}, true},
		{"private dependency", &models.ComponentDescriptor{Name: "A", Selector: "a", Dependencies: []string{"_MatInternalFormField"}}, true},
		{"node_modules path", &models.ComponentDescriptor{Name: "A", FilePath: "/p/node_modules/lib/a.ts"}, true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLibraryArtifact(tt.d))
		})
	}
}

func TestMatchingParen(t *testing.T) {
	src := "f(a, ')', `(${x})`, (b))"
	assert.Equal(t, len(src)-1, matchingParen(src, 1))
	assert.Equal(t, -1, matchingParen("f((a)", 1))
}
