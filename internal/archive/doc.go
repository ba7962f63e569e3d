// SPDX-License-Identifier: MPL-2.0

// Package archive unpacks payload archives and drives the external archive
// generator that repackages them.
//
// tar, tar.gz, tar.xz, tar.bz2 and zip are read natively; 7z archives are
// unpacked with the external 7z tool. All formats honour a strip count that
// drops leading path components, like tar's --strip-components.
package archive
