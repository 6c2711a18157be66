package taskloop

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Checkout</title></head>
<body>
	<h1>Checkout</h1>
	<h2>Shipping</h2>
	<a href="/cart">Back to cart</a>
	<a href="https://example.com/help">Help</a>
	<form>
		<input type="text" name="name" placeholder="Full name">
		<input type="email" name="email" placeholder="Email address">
		<input type="hidden" name="csrf" value="tok">
		<textarea name="notes" placeholder="Delivery notes"></textarea>
		<select name="country">
			<option>US</option>
		</select>
		<button>Continue</button>
		<input type="submit" value="Pay now">
		<div role="button">Apply coupon</div>
	</form>
	<img src="/logo.png" alt="Store logo">
</body>
</html>`

func TestExtractInventory(t *testing.T) {
	inv, err := ExtractInventory(samplePage)
	require.NoError(t, err)

	require.Len(t, inv.Buttons, 3, "button, submit input, and role=button")
	assert.Equal(t, "Continue", inv.Buttons[0].Text)
	assert.Equal(t, "button:nth-of-type(1)", inv.Buttons[0].Selector)

	require.Len(t, inv.Links, 2)
	assert.Equal(t, "Back to cart", inv.Links[0].Text)
	assert.Equal(t, "/cart", inv.Links[0].Href)

	require.Len(t, inv.Inputs, 4, "hidden inputs are excluded, textarea included")
	assert.Equal(t, "text", inv.Inputs[0].Type)
	assert.Equal(t, "name", inv.Inputs[0].Name)
	assert.Equal(t, "Full name", inv.Inputs[0].Placeholder)
	assert.Equal(t, "email", inv.Inputs[1].Type)

	require.Len(t, inv.Selects, 1)
	assert.Equal(t, "country", inv.Selects[0].Name)

	require.Len(t, inv.Headings, 2)
	assert.Equal(t, "h1", inv.Headings[0].Tag)
	assert.Equal(t, "Checkout", inv.Headings[0].Text)

	require.Len(t, inv.Images, 1)
	assert.Equal(t, "Store logo", inv.Images[0].Alt)
	assert.Equal(t, "/logo.png", inv.Images[0].Src)
}

func TestExtractInventoryTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 200)
	inv, err := ExtractInventory(`<html><body><a href="/` + long + `">` + long + `</a></body></html>`)
	require.NoError(t, err)

	require.Len(t, inv.Links, 1)
	assert.Len(t, inv.Links[0].Text, 50)
	assert.Len(t, inv.Links[0].Href, 100)
}

func TestExtractInventoryEmptyDocument(t *testing.T) {
	inv, err := ExtractInventory("")
	require.NoError(t, err)

	// Fields marshal as empty arrays, never null.
	assert.NotNil(t, inv.Buttons)
	assert.Empty(t, inv.Buttons)
	assert.NotNil(t, inv.Links)
	assert.Empty(t, inv.Inputs)
}

func TestExtractInventoryDefaultsInputType(t *testing.T) {
	inv, err := ExtractInventory(`<html><body><input name="q"></body></html>`)
	require.NoError(t, err)

	require.Len(t, inv.Inputs, 1)
	assert.Equal(t, "text", inv.Inputs[0].Type)
}
