// Package partition reads the Rockchip parameter block and exposes the
// partition table it describes.
//
// The parameter block lives in the first four sectors of the flash. It is a
// "PARM" image wrapping plain "KEY: value" text; the CMDLINE line carries an
// mtdparts list such as
//
//	mtdparts=rk29xxnand:0x00002000@0x00002000(misc),-@0x00382000(user:grow)
//
// where each token is size@offset(name) in sectors and a "-" size runs to the
// end of the flash.
//
// A Catalog is immutable once Parse returns it and may be shared freely.
package partition
