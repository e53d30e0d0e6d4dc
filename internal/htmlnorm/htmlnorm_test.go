package htmlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeNamedEntities_DecodesKnownEntities(t *testing.T) {
	got := DecodeNamedEntities("Tom &amp; Jerry &lt;3")
	assert.Equal(t, "Tom & Jerry <3", got)
}

func TestDecodeNamedEntities_LeavesNumericReferencesEncoded(t *testing.T) {
	got := DecodeNamedEntities("&#039;quoted&#039; &#8217;smart&#8217;")
	assert.Contains(t, got, "&#8217;")
}

func TestNormalize_LeavesCommentEntitiesEscaped(t *testing.T) {
	got := Normalize("&gt;&gt;12345 implying")
	assert.Equal(t, "&gt;&gt;12345 implying", got)
}

func TestNormalize_PreservesSpanClass(t *testing.T) {
	got := Normalize(`<span class="quote">&gt;implying</span>`)
	assert.Equal(t, `<span class="quote">&gt;implying</span>`, got)
}

func TestNormalize_PreTagPassesThroughRaw(t *testing.T) {
	got := Normalize(`<pre class="prettyprint">int x = 1;</pre>`)
	assert.Equal(t, `<pre class="prettyprint">int x = 1;</pre>`, got)
}

func TestNormalize_BrBecomesNewline(t *testing.T) {
	got := Normalize("line one<br>line two")
	assert.Equal(t, "line one\nline two", got)
}

func TestNormalize_RightTrimsTrailingWhitespace(t *testing.T) {
	got := Normalize("trailing space   \n\n")
	assert.Equal(t, "trailing space", got)
}

func TestNormalize_MalformedTagPassesThroughAsText(t *testing.T) {
	got := Normalize("a < b and c <span broken")
	assert.Contains(t, got, "a < b and c")
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		`plain text with &amp; entity`,
		`<span class="quote">&gt;quoted text</span> trailing<br>more`,
		`<pre class="prettyprint">code &amp; more code</pre>`,
		`<strong style="color: red;">BANNED</strong>`,
		`nested <span class="deadlink">&gt;&gt;123</span> and text`,
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "normalize should be idempotent for %q", in)
	}
}

func TestNormalize_UnknownTagRoundTripsIgnoringAttrOrder(t *testing.T) {
	got := Normalize(`<custom a="1" b="2">text</custom>`)
	assert.Contains(t, got, "text")
	assert.Contains(t, got, `a="1"`)
	assert.Contains(t, got, `b="2"`)
}
