package translator

// FormatAddress shortens an address to its first 6 and last 4 characters.
func FormatAddress(address string) string {
	return FormatAddressN(address, 6, 4)
}

// FormatAddressN keeps start leading and end trailing characters. Strings too
// short to shorten are returned unchanged.
func FormatAddressN(address string, start, end int) string {
	if len(address) < start+end {
		return address
	}
	return address[:start] + "..." + address[len(address)-end:]
}
