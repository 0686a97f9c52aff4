//go:build opencl

package compute

// Layout of the parameter blocks shared by the host and the steer kernel.
const (
	fpOrigin    = 0 // 3 floats
	fpCellSize  = 3 // 3 floats
	fpExtent    = 6 // 3 floats
	fpRadius    = 9
	fpSepRadius = 10
	fpMaxSpeed  = 11
	fpMaxSteer  = 12
	fpDT        = 13
	fpWeights   = 14 // separation, alignment, cohesion, target
	fpRepulsion = 18
	fpCore      = 19
	fpLen       = 20

	ipRes          = 0 // 3 ints
	ipPeriodic     = 3
	ipMaxNeighbors = 4
	ipEnabled      = 5 // bit 0 separation, 1 alignment, 2 cohesion, 3 target
	ipModel        = 6
	ipFieldTypes   = 7
	ipTargets      = 8
	ipLen          = 9

	targetStride = 6 // pos xyz, radius, sign, strength
)

const steerKernelSource = `
#ifndef DIM
#define DIM 3
#endif

inline float3 loadv(__global const float* a, int i) {
#if DIM == 3
	return (float3)(a[i*3], a[i*3+1], a[i*3+2]);
#else
	return (float3)(a[i*2], a[i*2+1], 0.0f);
#endif
}

inline void storev(__global float* a, int i, float3 v) {
#if DIM == 3
	a[i*3] = v.x; a[i*3+1] = v.y; a[i*3+2] = v.z;
#else
	a[i*2] = v.x; a[i*2+1] = v.y;
#endif
}

inline float3 clamp_len(float3 v, float m) {
	if (m <= 0.0f) return (float3)(0.0f);
	if (any(isnan(v))) return v;
	if (any(isinf(v))) {
		float3 d = (float3)(isinf(v.x) ? sign(v.x) : 0.0f,
			isinf(v.y) ? sign(v.y) : 0.0f,
			isinf(v.z) ? sign(v.z) : 0.0f);
		return d * (m / length(d));
	}
	float s = fmax(fabs(v.x), fmax(fabs(v.y), fabs(v.z)));
	if (s <= m) {
		float l = v.x*v.x + v.y*v.y + v.z*v.z;
		if (l <= m*m) return v;
	}
	float3 u = v / s;
	return u * (m / length(u));
}

inline float pdelta(float d, float w) {
	if (d > w*0.5f) return d - w;
	if (d < -w*0.5f) return d + w;
	return d;
}

inline float3 min_image(float3 d, float3 ext) {
	d.x = pdelta(d.x, ext.x);
	d.y = pdelta(d.y, ext.y);
#if DIM == 3
	d.z = pdelta(d.z, ext.z);
#endif
	return d;
}

inline int cell_coord(float p, float origin, float cs, int res) {
	float f = (p - origin) / cs;
	if (!(f >= 0.0f)) return 0;
	if (f >= (float)res) return res - 1;
	return (int)f;
}

inline int wrap_axis(int c, int res, int periodic) {
	if (c >= 0 && c < res) return c;
	if (!periodic) return -1;
	return (c + res) % res;
}

inline void offsets(int res, int periodic, int* lo, int* hi) {
	*lo = -1; *hi = 1;
	if (res == 1) { *lo = 0; *hi = 0; }
	else if (res == 2 && periodic) { *lo = 0; }
}

__kernel void steer(
	const int n,
	__global const float* pos,
	__global const float* vel,
	__global const uchar* types,
	__global const int* sorted,
	__global const int* cell_start,
	__global const float* fp,
	__global const int* ip,
	__global const float* targets,
	__global const float* attraction,
	__global float* out)
{
	int i = get_global_id(0);
	if (i >= n) return;

	float3 origin = (float3)(fp[0], fp[1], fp[2]);
	float3 cs = (float3)(fp[3], fp[4], fp[5]);
	float3 ext = (float3)(fp[6], fp[7], fp[8]);
	float radius = fp[9];
	float sep_r = fp[10];
	float max_speed = fp[11];
	float max_steer = fp[12];
	float dt = fp[13];
	int res0 = ip[0], res1 = ip[1], res2 = ip[2];
	int periodic = ip[3];
	int max_nb = ip[4];
	int enabled = ip[5];
	int model = ip[6];
	int ntypes = ip[7];
	int ntargets = ip[8];

	float3 p = loadv(pos, i);
	float3 v = loadv(vel, i);
	int my_type = types[i];

	int cx0 = cell_coord(p.x, origin.x, cs.x, res0);
	int cy0 = cell_coord(p.y, origin.y, cs.y, res1);
	int cz0 = 0;
#if DIM == 3
	cz0 = cell_coord(p.z, origin.z, cs.z, res2);
#endif
	int lox, hix, loy, hiy, loz = 0, hiz = 0;
	offsets(res0, periodic, &lox, &hix);
	offsets(res1, periodic, &loy, &hiy);
#if DIM == 3
	offsets(res2, periodic, &loz, &hiz);
#endif

	float r_sq = radius * radius;
	float sep_sq = sep_r * sep_r;
	float core = fp[19] * radius;
	float core_sq = core * core;

	float3 sep = (float3)(0.0f);
	float3 avg = (float3)(0.0f);
	float3 cen = (float3)(0.0f);
	float3 fld = (float3)(0.0f);
	int count = 0;
	int done = 0;

	for (int oz = loz; oz <= hiz && !done; oz++) {
		int cz = wrap_axis(cz0 + oz, res2, periodic);
		if (cz < 0) continue;
		for (int oy = loy; oy <= hiy && !done; oy++) {
			int cy = wrap_axis(cy0 + oy, res1, periodic);
			if (cy < 0) continue;
			for (int ox = lox; ox <= hix && !done; ox++) {
				int cx = wrap_axis(cx0 + ox, res0, periodic);
				if (cx < 0) continue;
				int cell = (cz*res1 + cy)*res0 + cx;
				for (int k = cell_start[cell]; k < cell_start[cell+1]; k++) {
					int j = sorted[k];
					if (j == i) continue;
					float3 d = loadv(pos, j) - p;
					if (periodic) d = min_image(d, ext);
					float dsq = d.x*d.x + d.y*d.y + d.z*d.z;
					if (dsq > r_sq) continue;

					if (model == 1) {
						if (dsq < r_sq) {
							float a = attraction[(my_type % ntypes)*ntypes + (types[j] % ntypes)];
							fld += d * (a * (1.0f - dsq/r_sq) / radius);
							if (dsq < core_sq) {
								fld -= d * (fp[18] * (1.0f - dsq/core_sq) / core);
							}
						}
					} else {
						if (dsq < sep_sq && dsq > 0.0f) sep -= d / dsq;
						avg += loadv(vel, j);
						cen += d;
					}
					count++;
					if (max_nb > 0 && count >= max_nb) { done = 1; break; }
				}
			}
		}
	}

	float3 acc = (float3)(0.0f);
	if (model == 1) {
		acc = clamp_len(fld, max_steer);
	} else if (count > 0) {
		float inv = 1.0f / (float)count;
		if (enabled & 1) acc += clamp_len(sep, max_steer) * fp[14];
		if (enabled & 2) acc += clamp_len(avg*inv - v, max_steer) * fp[15];
		if (enabled & 4) acc += clamp_len(cen*inv, max_steer) * fp[16];
	}

	if ((enabled & 8) && ntargets > 0) {
		for (int t = 0; t < ntargets; t++) {
			__global const float* tg = targets + t*6;
			float3 d = (float3)(tg[0], tg[1], tg[2]) - p;
#if DIM == 2
			d.z = 0.0f;
#endif
			if (periodic) d = min_image(d, ext);
			float reach = tg[3] * radius;
			if (d.x*d.x + d.y*d.y + d.z*d.z > reach*reach) continue;
			acc += clamp_len(d * tg[4], max_steer) * (fp[17] * tg[5]);
		}
	}

	float3 nv = v + acc*dt;
	// non-finite velocities are left for the host integrator to repair and count
	storev(out, i, (any(isnan(nv)) || any(isinf(nv))) ? nv : clamp_len(nv, max_speed));
}
`
