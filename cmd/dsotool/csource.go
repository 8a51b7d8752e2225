package main

import (
	"fmt"
	"strings"

	"github.com/ZenLiuCN/dso"
)

// BlobSource renders C source exporting the nested import blob of imports.
func BlobSource(imports []dso.ImportDescriptor) string {
	blob := dso.EncodeBlob(imports)
	var b strings.Builder
	b.WriteString("// Code generated by dsotool pack. DO NOT EDIT.\n\n")
	b.WriteString("#ifdef _WIN32\n#define DSO_EXPORT __declspec(dllexport)\n#else\n#define DSO_EXPORT __attribute__((visibility(\"default\")))\n#endif\n")
	b.WriteString("#ifdef _MSC_VER\n#define DSO_ALIGN __declspec(align(8))\n#else\n#define DSO_ALIGN __attribute__((aligned(8)))\n#endif\n\n")
	b.WriteString("#ifdef __cplusplus\nextern \"C\" {\n#endif\n")
	fmt.Fprintf(&b, "DSO_EXPORT extern const unsigned char %s[];\n", dso.SymbolDevBlob)
	fmt.Fprintf(&b, "DSO_ALIGN const unsigned char %s[%d] = {", dso.SymbolDevBlob, len(blob))
	for i, c := range blob {
		if i%16 == 0 {
			b.WriteString("\n ")
		}
		fmt.Fprintf(&b, " 0x%02x,", c)
	}
	b.WriteString("\n};\n#ifdef __cplusplus\n}\n#endif\n")
	return b.String()
}
