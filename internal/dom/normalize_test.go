package dom

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    string
		filter []string
		want   string
	}{
		{
			name: "script blocks are removed across lines",
			raw:  "<body><SCRIPT type=\"text/javascript\">\nvar x = 1;\n</script><p>hi</p></body>",
			want: "<body><p>hi</p></body>",
		},
		{
			name: "each script block is removed separately",
			raw:  "<script>a()</script><p>keep</p><script>b()</script>",
			want: "<p>keep</p>",
		},
		{
			name: "xml processing tags are removed",
			raw:  `<html><?xml:namespace prefix="o" ns="urn:x"><body></body></html>`,
			want: "<html><body></body></html>",
		},
		{
			name:   "filtered attribute is removed",
			raw:    `<div data-ts="1712345" class="x">t</div>`,
			filter: []string{"data-ts"},
			want:   `<div class="x">t</div>`,
		},
		{
			name:   "filtered attribute matches case-insensitively",
			raw:    `<div DATA-TS="99">t</div>`,
			filter: []string{"data-ts"},
			want:   `<div>t</div>`,
		},
		{
			name:   "every filtered attribute is applied",
			raw:    `<a data-ts="1" data-nonce="abc" href="/x">go</a>`,
			filter: []string{"data-ts", "data-nonce"},
			want:   `<a href="/x">go</a>`,
		},
		{
			name: "empty style attributes are removed",
			raw:  `<span STYLE="">x</span><span style="color:red">y</span>`,
			want: `<span>x</span><span style="color:red">y</span>`,
		},
		{
			name:   "attribute names are not treated as patterns",
			raw:    `<div d.ta="1" dxta="2"></div>`,
			filter: []string{"d.ta"},
			want:   `<div dxta="2"></div>`,
		},
		{
			name: "markup without noise is unchanged",
			raw:  `<ul><li>one</li></ul>`,
			want: `<ul><li>one</li></ul>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Normalize(tt.raw, tt.filter); got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	raw := `<html><script>x()</script><?xml:ns a><body style="" data-ts="3"><p id="a">x</p></body></html>`
	filter := []string{"data-ts"}

	once := Normalize(raw, filter)
	if twice := Normalize(once, filter); twice != once {
		t.Errorf("second pass changed output:\n%q\n%q", once, twice)
	}
}

func TestNormalize_TimestampNoiseCollapses(t *testing.T) {
	t.Parallel()

	a := `<body><div data-ts="1000">Hello</div></body>`
	b := `<body><div data-ts="2000">Hello</div></body>`

	if Normalize(a, []string{"data-ts"}) != Normalize(b, []string{"data-ts"}) {
		t.Error("DOMs differing only in a filtered attribute must normalize equally")
	}
	if Normalize(a, nil) == Normalize(b, nil) {
		t.Error("without filtering the DOMs must stay distinct")
	}
}
